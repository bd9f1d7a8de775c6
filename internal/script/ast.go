// Package script parses workflow scripts into a typed syntax tree. Every node
// records exact byte offsets into the original source so later passes can
// splice rewritten fragments without disturbing the surrounding text.
package script

// Node is any element of the syntax tree. Pos and End are byte offsets into
// the source, half-open.
type Node interface {
	Pos() int
	End() int
}

type span struct {
	pos int
	end int
}

func (s span) Pos() int { return s.pos }
func (s span) End() int { return s.end }

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Program is a parsed script: one or more top-level class declarations.
type Program struct {
	span
	Classes []*ClassDecl
}

// ClassDecl is `class Name [extends Base[<"trigger">]] { ... }`.
type ClassDecl struct {
	span
	Name        string
	Extends     string // base class identifier, "" if none
	TriggerType string // generic string argument on the base, "" if none
	Fields      []*FieldDef
	Methods     []*MethodDef
	Line        int
}

// FieldDef is a class-body assignment `name = expr`.
type FieldDef struct {
	span
	Name  string
	Value Expr
}

// MethodDef is `[async] name(params) { ... }`.
type MethodDef struct {
	span
	Name   string
	Async  bool
	Params []*Param
	Body   *BlockStmt
}

// Param is one method parameter with an optional `: TypeName` annotation.
type Param struct {
	span
	Name     string
	TypeName string
}

type BlockStmt struct {
	span
	Stmts []Stmt
}

// DeclStmt is `const name = expr` or `let name = expr`.
type DeclStmt struct {
	span
	Const bool
	Name  string
	Value Expr
	Line  int
}

type AssignStmt struct {
	span
	Target Expr // Ident, Member, or Index
	Value  Expr
}

type IfStmt struct {
	span
	Cond Expr
	Then *BlockStmt
	Else Stmt // *BlockStmt, *IfStmt, or nil
}

// ForOfStmt is `for (const name of expr) { ... }`.
type ForOfStmt struct {
	span
	Name string
	Iter Expr
	Body *BlockStmt
}

type ReturnStmt struct {
	span
	Value Expr // nil for bare return
}

type ThrowStmt struct {
	span
	Value Expr
}

type ExprStmt struct {
	span
	X    Expr
	Line int
}

func (*BlockStmt) stmtNode()  {}
func (*DeclStmt) stmtNode()   {}
func (*AssignStmt) stmtNode() {}
func (*IfStmt) stmtNode()     {}
func (*ForOfStmt) stmtNode()  {}
func (*ReturnStmt) stmtNode() {}
func (*ThrowStmt) stmtNode()  {}
func (*ExprStmt) stmtNode()   {}

type Ident struct {
	span
	Name string
}

type StringLit struct {
	span
	Value string
}

type NumberLit struct {
	span
	Value float64
}

type BoolLit struct {
	span
	Value bool
}

type NullLit struct {
	span
}

type ArrayLit struct {
	span
	Elems []Expr
}

// ObjectProp is one `key: value` entry of an object literal. Quoted records
// whether the key was written as a string literal.
type ObjectProp struct {
	span
	Key    string
	Quoted bool
	Value  Expr
}

type ObjectLit struct {
	span
	Props []*ObjectProp
}

// Member is `x.name`.
type Member struct {
	span
	X    Expr
	Name string
}

// Index is `x[i]`.
type Index struct {
	span
	X Expr
	I Expr
}

// Call is `fn(args)`. LParen and RParen are the byte offsets of the argument
// list delimiters.
type Call struct {
	span
	Fn     Expr
	Args   []Expr
	LParen int
	RParen int
}

// NewExpr is `new Class(args)`.
type NewExpr struct {
	span
	Class  string
	Args   []Expr
	LParen int
	RParen int
	Line   int
}

type AwaitExpr struct {
	span
	X Expr
}

type UnaryExpr struct {
	span
	Op string // "!" or "-"
	X  Expr
}

type BinaryExpr struct {
	span
	Op string
	X  Expr
	Y  Expr
}

func (*Ident) exprNode()      {}
func (*StringLit) exprNode()  {}
func (*NumberLit) exprNode()  {}
func (*BoolLit) exprNode()    {}
func (*NullLit) exprNode()    {}
func (*ArrayLit) exprNode()   {}
func (*ObjectLit) exprNode()  {}
func (*Member) exprNode()     {}
func (*Index) exprNode()      {}
func (*Call) exprNode()       {}
func (*NewExpr) exprNode()    {}
func (*AwaitExpr) exprNode()  {}
func (*UnaryExpr) exprNode()  {}
func (*BinaryExpr) exprNode() {}
