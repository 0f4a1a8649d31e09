package sqlinline

const QInsertBookJob = `--sql ffa01b53-fb4a-4f49-b53c-89be3150a957
insert into book_jobs (id, owner_id, status, progress, step, request, result, error, created_at, updated_at)
values ($1, $2, $3, $4, nullif($5, ''), $6, $7, nullif($8, ''), $9, $10);
`

const QSelectBookJob = `--sql 58c62867-6afc-4803-ac4a-dd21a3a6a17a
select id::text, owner_id::text, status, progress, coalesce(step, ''), request, result, coalesce(error, ''), created_at, updated_at
from book_jobs
where id = $1;
`

const QSelectBookJobForUpdate = `--sql 93b0591b-69f2-4dce-94e6-878dba3bb686
select id::text, owner_id::text, status, progress, coalesce(step, ''), request, result, coalesce(error, ''), created_at, updated_at
from book_jobs
where id = $1
for update;
`

const QUpdateBookJob = `--sql 5a444a41-bf75-46bc-a54d-ec021958fc1a
update book_jobs
set status = $2,
    progress = $3,
    step = nullif($4, ''),
    result = $5,
    error = nullif($6, ''),
    updated_at = $7
where id = $1;
`
