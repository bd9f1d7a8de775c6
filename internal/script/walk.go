package script

// Inspect visits n and every node beneath it in source order. The tree is
// never mutated by Inspect; visitors that rewrite do so through recorded byte
// offsets instead.
func Inspect(n Node, f func(Node)) {
	if n == nil {
		return
	}
	f(n)
	switch v := n.(type) {
	case *Program:
		for _, c := range v.Classes {
			Inspect(c, f)
		}
	case *ClassDecl:
		for _, fd := range v.Fields {
			Inspect(fd, f)
		}
		for _, m := range v.Methods {
			Inspect(m, f)
		}
	case *FieldDef:
		Inspect(v.Value, f)
	case *MethodDef:
		for _, p := range v.Params {
			Inspect(p, f)
		}
		Inspect(v.Body, f)
	case *BlockStmt:
		for _, s := range v.Stmts {
			Inspect(s, f)
		}
	case *DeclStmt:
		Inspect(v.Value, f)
	case *AssignStmt:
		Inspect(v.Target, f)
		Inspect(v.Value, f)
	case *IfStmt:
		Inspect(v.Cond, f)
		Inspect(v.Then, f)
		if v.Else != nil {
			Inspect(v.Else, f)
		}
	case *ForOfStmt:
		Inspect(v.Iter, f)
		Inspect(v.Body, f)
	case *ReturnStmt:
		if v.Value != nil {
			Inspect(v.Value, f)
		}
	case *ThrowStmt:
		Inspect(v.Value, f)
	case *ExprStmt:
		Inspect(v.X, f)
	case *ArrayLit:
		for _, el := range v.Elems {
			Inspect(el, f)
		}
	case *ObjectLit:
		for _, p := range v.Props {
			Inspect(p, f)
		}
	case *ObjectProp:
		Inspect(v.Value, f)
	case *Member:
		Inspect(v.X, f)
	case *Index:
		Inspect(v.X, f)
		Inspect(v.I, f)
	case *Call:
		Inspect(v.Fn, f)
		for _, a := range v.Args {
			Inspect(a, f)
		}
	case *NewExpr:
		for _, a := range v.Args {
			Inspect(a, f)
		}
	case *AwaitExpr:
		Inspect(v.X, f)
	case *UnaryExpr:
		Inspect(v.X, f)
	case *BinaryExpr:
		Inspect(v.X, f)
		Inspect(v.Y, f)
	}
}
