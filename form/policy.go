package form

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Policy is a site specific rule attached to one option. The expression is
// evaluated with `value` (typed), `raw` (stored string) and `section` (all
// form values of the section being edited) and must yield true.
type Policy struct {
	Field      string
	Expression string
	Message    string

	program *vm.Program
}

// CompilePolicy compiles the expression of a policy.
func CompilePolicy(field, expression, message string) (*Policy, error) {
	if field == "" {
		return nil, errors.New("policy field must not be empty")
	}
	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile policy for %s: %w", field, err)
	}
	if message == "" {
		message = fmt.Sprintf("Value rejected by policy %q", expression)
	}
	return &Policy{Field: field, Expression: expression, Message: message, program: program}, nil
}

// Attach registers the policy as a validator on its option in s.
func (p *Policy) Attach(s *GridSection) error {
	opt, ok := s.Option(p.Field)
	if !ok {
		return fmt.Errorf("policy: unknown field %q in section %s", p.Field, s.Type)
	}
	opt.Validate(p.validator(s, opt))
	return nil
}

func (p *Policy) validator(s *GridSection, opt *Option) Validator {
	return func(values Values, sectionID, value string) error {
		section := make(map[string]any, len(s.Options))
		for _, other := range s.Options {
			section[other.Key] = values.FormValue(sectionID, other.Key)
		}
		section[opt.Key] = value
		env := map[string]any{
			"value":   typedValue(opt, value),
			"raw":     value,
			"section": section,
		}
		out, err := expr.Run(p.program, env)
		if err != nil {
			return fmt.Errorf("policy evaluation failed: %v", err)
		}
		if ok, _ := out.(bool); !ok {
			return errors.New(p.Message)
		}
		return nil
	}
}

func typedValue(opt *Option, value string) any {
	switch opt.Kind {
	case KindFlag:
		return value == "1"
	case KindIntRange:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return value
}
