package config

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
	// cue values built from one context must not be used concurrently.
	schemaMu sync.Mutex
)

func portSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compile port schema: %w", err)
			return
		}
		schemaDef = root.LookupPath(cue.ParsePath("#Port"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup port schema: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// CheckSchema validates typed ports against the embedded CUE schema and
// returns every violation, prefixed with the section index.
func CheckSchema(ports []PortSection) error {
	ctx, def, err := portSchema()
	if err != nil {
		return err
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	var errs []error
	for i, port := range ports {
		value := def.Unify(ctx.Encode(port))
		if err := value.Validate(cue.Concrete(true)); err != nil {
			for _, detail := range cueerrors.Errors(err) {
				errs = append(errs, fmt.Errorf("section %d: %s", i, detail.Error()))
			}
		}
	}
	return errors.Join(errs...)
}
