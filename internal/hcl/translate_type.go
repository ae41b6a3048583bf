// This file contains the logic for parsing HCL type keywords (e.g. `string`,
// `enum`) into parameter types.

package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
)

// typeExprToParamType converts an HCL type keyword into a config.ParamType.
func typeExprToParamType(ctx context.Context, expr hcl.Expression) (config.ParamType, error) {
	logger := ctxlog.FromContext(ctx)

	if isMissing(expr) {
		logger.Debug("Type expression is missing, defaulting to string.")
		return config.TypeString, nil
	}

	switch v := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return "", fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		rootName := v.Traversal.RootName()
		logger.Debug("Parsing type expression as a keyword.", "keyword", rootName)
		t := config.ParamType(rootName)
		if !t.Valid() {
			return "", fmt.Errorf("unknown parameter type %q (want string, number, bool or enum)", rootName)
		}
		return t, nil

	case *hclsyntax.TemplateExpr:
		// Accept the quoted form `type = "enum"` as well.
		val, diags := v.Value(nil)
		if diags.HasErrors() {
			return "", diags
		}
		t := config.ParamType(val.AsString())
		if !t.Valid() {
			return "", fmt.Errorf("unknown parameter type %q (want string, number, bool or enum)", val.AsString())
		}
		return t, nil

	default:
		return "", fmt.Errorf("unsupported expression for type definition: %T", v)
	}
}
