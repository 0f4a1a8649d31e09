// Package jobcodec converts job payloads to and from their stored JSON form.
package jobcodec

import (
	"encoding/json"
	"fmt"

	"bookforge/internal/domain"
)

// Encode returns the request and result columns for job. The result is nil
// when the job has none.
func Encode(job *domain.Job) (request []byte, result []byte, err error) {
	request, err = json.Marshal(job.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	if job.Result != nil {
		result, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	return request, result, nil
}

// Decode fills job from stored columns.
func Decode(job *domain.Job, request, result []byte) error {
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	job.Result = nil
	if len(result) > 0 && string(result) != "null" {
		var r domain.BookResult
		if err := json.Unmarshal(result, &r); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		job.Result = &r
	}
	return nil
}
