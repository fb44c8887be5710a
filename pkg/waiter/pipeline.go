package waiter

import (
	"context"

	"apiflow/pkg/pipeline"
	"apiflow/pkg/request"
)

// SpecBuilder turns waiter parameters into a request.
type SpecBuilder func(params map[string]any) (*request.Spec, error)

// FromPipeline polls op through p. Application errors become the Err
// variant; transport failures and retries exceeded stop the wait.
func FromPipeline(p *pipeline.Pipeline, op pipeline.Operation, build SpecBuilder) Operation {
	return NormalizeOperation(func(ctx context.Context, params map[string]any) (map[string]any, error) {
		spec, err := build(params)
		if err != nil {
			return nil, err
		}
		res, err := p.Execute(ctx, spec, op)
		if err != nil {
			return nil, err
		}
		if res.Stream != nil {
			res.Stream.Close()
		}
		return res.Parsed, nil
	})
}
