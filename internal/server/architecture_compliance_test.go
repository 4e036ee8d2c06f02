package server

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"testing"
)

type registeredRoute struct {
	method  string
	path    string
	handler string
}

// boundaryFields are the Server fields that own file and account state.
var boundaryFields = map[string]bool{
	"files":       true,
	"uploads":     true,
	"blobs":       true,
	"authService": true,
}

func TestMutationRoutesUseServiceBoundary(t *testing.T) {
	routes := parseRegisteredRoutes(t)
	methods := parseServerMethods(t)

	mutationRoutes := make([]registeredRoute, 0)
	for _, route := range routes {
		if isMutationMethod(route.method) {
			mutationRoutes = append(mutationRoutes, route)
		}
	}
	if len(mutationRoutes) == 0 {
		t.Fatal("no mutation routes discovered")
	}

	for _, route := range mutationRoutes {
		if _, ok := methods[route.handler]; !ok {
			t.Fatalf("handler %q for %s %s not found", route.handler, route.method, route.path)
		}
		boundary, direct := reachableFieldCalls(methods, route.handler)
		if len(direct) > 0 {
			t.Fatalf("handler %q (%s %s) calls s.store directly: %v", route.handler, route.method, route.path, direct)
		}
		if len(boundary) == 0 {
			t.Fatalf("handler %q (%s %s) does not call a service boundary", route.handler, route.method, route.path)
		}
	}
}

func TestContentReadRoutesUseServiceBoundary(t *testing.T) {
	routes := parseRegisteredRoutes(t)
	methods := parseServerMethods(t)

	checked := 0
	for _, route := range routes {
		if route.method != "GET" || !isContentPath(route.path) {
			continue
		}
		checked++
		boundary, direct := reachableFieldCalls(methods, route.handler)
		if len(direct) > 0 {
			t.Fatalf("handler %q (%s %s) calls s.store directly: %v", route.handler, route.method, route.path, direct)
		}
		if len(boundary) == 0 {
			t.Fatalf("handler %q (%s %s) does not call a service boundary", route.handler, route.method, route.path)
		}
	}
	if checked == 0 {
		t.Fatal("no file or blob read routes discovered")
	}
}

func isContentPath(path string) bool {
	return strings.HasPrefix(path, "/v1/files") || strings.HasPrefix(path, "/v1/blobs")
}

func TestEveryRouteHasAHandler(t *testing.T) {
	routes := parseRegisteredRoutes(t)
	methods := parseServerMethods(t)
	for _, route := range routes {
		if _, ok := methods[route.handler]; !ok {
			t.Fatalf("route %s %s points at unknown handler %q", route.method, route.path, route.handler)
		}
	}
}

// parseRegisteredRoutes finds every mux registration whose handler is a
// Server method, either passed directly or wrapped by a middleware call.
func parseRegisteredRoutes(t *testing.T) []registeredRoute {
	t.Helper()

	routesPath := filepath.Join(serverPackageDir(t), "routes.go")
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, routesPath, nil, 0)
	if err != nil {
		t.Fatalf("parse routes.go: %v", err)
	}

	routes := make([]registeredRoute, 0)
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || (sel.Sel.Name != "HandleFunc" && sel.Sel.Name != "Handle") || len(call.Args) != 2 {
			return true
		}

		patternLit, ok := call.Args[0].(*ast.BasicLit)
		if !ok || patternLit.Kind != token.STRING {
			return true
		}
		pattern, err := strconv.Unquote(patternLit.Value)
		if err != nil {
			t.Fatalf("unquote route pattern %q: %v", patternLit.Value, err)
		}
		parts := strings.SplitN(pattern, " ", 2)
		if len(parts) != 2 {
			return true
		}

		handler := innermostServerHandler(call.Args[1])
		if handler == "" {
			return true
		}
		routes = append(routes, registeredRoute{
			method:  strings.TrimSpace(parts[0]),
			path:    strings.TrimSpace(parts[1]),
			handler: handler,
		})
		return true
	})

	return routes
}

// innermostServerHandler unwraps calls like authed(s.handleX) and
// s.withAdmin(http.HandlerFunc(s.handleX)) down to "handleX".
func innermostServerHandler(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.SelectorExpr:
		recv, ok := e.X.(*ast.Ident)
		if ok && recv.Name == "s" && strings.HasPrefix(e.Sel.Name, "handle") {
			return e.Sel.Name
		}
	case *ast.CallExpr:
		for _, arg := range e.Args {
			if name := innermostServerHandler(arg); name != "" {
				return name
			}
		}
	}
	return ""
}

func parseServerMethods(t *testing.T) map[string]*ast.FuncDecl {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(serverPackageDir(t), "*.go"))
	if err != nil {
		t.Fatalf("glob server files: %v", err)
	}

	out := make(map[string]*ast.FuncDecl)
	fset := token.NewFileSet()
	for _, filePath := range files {
		if strings.HasSuffix(filePath, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filePath, nil, 0)
		if err != nil {
			t.Fatalf("parse %s: %v", filePath, err)
		}
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv == nil || fn.Name == nil || fn.Body == nil {
				continue
			}
			if isServerReceiver(fn.Recv) {
				out[fn.Name.Name] = fn
			}
		}
	}
	return out
}

// reachableFieldCalls walks name and the Server methods it calls, collecting
// s.<boundary>.X calls and direct s.store.X calls.
func reachableFieldCalls(methods map[string]*ast.FuncDecl, name string) (boundary, direct []string) {
	visited := map[string]bool{}
	var walk func(string)
	walk = func(name string) {
		fn, ok := methods[name]
		if !ok || visited[name] {
			return
		}
		visited[name] = true
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			selector, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if recv, ok := selector.X.(*ast.Ident); ok && recv.Name == "s" {
				walk(selector.Sel.Name)
				return true
			}
			chain, ok := selector.X.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			recv, ok := chain.X.(*ast.Ident)
			if !ok || recv.Name != "s" {
				return true
			}
			switch {
			case chain.Sel.Name == "store":
				direct = append(direct, selector.Sel.Name)
			case boundaryFields[chain.Sel.Name]:
				boundary = append(boundary, chain.Sel.Name+"."+selector.Sel.Name)
			}
			return true
		})
	}
	walk(name)
	return uniqueSorted(boundary), uniqueSorted(direct)
}

func isMutationMethod(method string) bool {
	switch method {
	case "POST", "PATCH", "PUT", "DELETE":
		return true
	default:
		return false
	}
}

func isServerReceiver(recv *ast.FieldList) bool {
	if recv == nil || len(recv.List) != 1 {
		return false
	}
	star, ok := recv.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	ident, ok := star.X.(*ast.Ident)
	return ok && ident.Name == "Server"
}

func serverPackageDir(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Dir(file)
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	slices.Sort(out)
	return out
}
