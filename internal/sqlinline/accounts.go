package sqlinline

const QSelectAccount = `--sql 6a9ee2e9-374d-4325-b999-91ad6e9ef398
select id::text, email, plan, credits_remaining, created_at, updated_at
from accounts
where id = $1;
`

const QSelectAccountByEmail = `--sql 5650facb-f025-4c1b-9656-5956116e49ed
select id::text, email, plan, credits_remaining, created_at, updated_at
from accounts
where lower(email) = lower($1);
`

const QUpsertAccountPlan = `--sql 494ba865-5c70-4673-9307-d16f272642a6
insert into accounts (id, email, plan, credits_remaining)
values ($1, $2, $3, $4)
on conflict (email) do update
set plan = excluded.plan,
    credits_remaining = excluded.credits_remaining,
    updated_at = now()
returning id::text, email, plan, credits_remaining, created_at, updated_at;
`

const QLockAccountCredits = `--sql 32593e4f-f70a-4630-8ba5-50a3ea9a91ed
select credits_remaining
from accounts
where id = $1
for update;
`

const QInsertCreditCharge = `--sql 6a56ddf3-b906-46f9-a187-2c89b66e1029
insert into credit_charges (charge_key, account_id)
values ($1, $2)
on conflict (charge_key) do nothing;
`

const QDecrementCredits = `--sql 2701eb55-5be8-42ae-9587-a964d4379a53
update accounts
set credits_remaining = greatest(credits_remaining - 1, 0),
    updated_at = now()
where id = $1
returning credits_remaining;
`
