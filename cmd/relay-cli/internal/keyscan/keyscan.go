// Package keyscan finds registry.Key definitions in a Go source tree.
package keyscan

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

const registryPkgSuffix = "internal/registry"

// Service is one registry key and the type it resolves to.
type Service struct {
	Name    string
	Key     string
	Type    string
	Package string
}

// Load type-checks every package under dir and returns the registry keys it
// declares, ordered by key.
func Load(dir string) ([]Service, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
		Dir:  dir,
	}

	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	return Scan(pkgs), nil
}

// Scan collects the registry keys declared in already loaded packages.
func Scan(pkgs []*packages.Package) []Service {
	var services []Service
	for _, pkg := range pkgs {
		if pkg.TypesInfo == nil {
			continue
		}
		for _, file := range pkg.Syntax {
			services = append(services, scanFile(pkg.TypesInfo, file, pkg.PkgPath)...)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Key < services[j].Key })
	return services
}

func scanFile(info *types.Info, file *ast.File, pkgPath string) []Service {
	var services []Service
	ast.Inspect(file, func(n ast.Node) bool {
		decl, ok := n.(*ast.GenDecl)
		if !ok || decl.Tok != token.VAR {
			return true
		}
		for _, spec := range decl.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, value := range vs.Values {
				call, ok := value.(*ast.CallExpr)
				if !ok || len(call.Args) != 1 {
					continue
				}
				indices, ok := registryKey(info, call.Fun)
				if !ok {
					continue
				}

				s := Service{Package: pkgPath}
				if i < len(vs.Names) {
					s.Name = vs.Names[i].Name
				}
				if lit, ok := call.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
					s.Key, _ = strconv.Unquote(lit.Value)
				}
				if len(indices) == 1 {
					s.Type = types.ExprString(indices[0])
				}
				services = append(services, s)
			}
		}
		return true
	})
	return services
}

// registryKey reports whether fun instantiates registry.Key and returns its
// type arguments. A single argument parses as an IndexExpr.
func registryKey(info *types.Info, fun ast.Expr) ([]ast.Expr, bool) {
	var indices []ast.Expr
	switch f := fun.(type) {
	case *ast.IndexExpr:
		indices = []ast.Expr{f.Index}
	case *ast.IndexListExpr:
		indices = f.Indices
	default:
		return nil, false
	}

	named, ok := info.TypeOf(fun).(*types.Named)
	if !ok || named.Obj().Name() != "Key" || named.Obj().Pkg() == nil {
		return nil, false
	}
	if !strings.HasSuffix(named.Obj().Pkg().Path(), registryPkgSuffix) {
		return nil, false
	}
	return indices, true
}
