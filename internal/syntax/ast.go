package syntax

// File is the syntax tree of one source unit.
type File struct {
	Name    string
	Defines []Define
}

// Define is a top-level declaration: a message catalog entry or a flow.
type Define interface {
	Position() Pos
	define()
}

// Stmt is a statement inside a flow body.
type Stmt interface {
	Position() Pos
	stmt()
}

// Pos locates a node and carries the comments attached to it.
type Pos struct {
	Line int
	Doc  string
}

func (p Pos) Position() Pos { return p }

// MessageDef is `define user NAME` or `define bot NAME` with its samples.
type MessageDef struct {
	Pos
	Bot     bool
	Name    string
	Samples []string
}

// FlowDef is `define [extension] [inactive] flow|subflow NAME`.
type FlowDef struct {
	Pos
	Name      string
	Subflow   bool
	Extension bool
	Inactive  bool
	Body      []Stmt
}

// Pattern is the clause accepted by `user`, `event` and `when`.
type Pattern struct {
	User     bool
	Intent   string
	Wildcard bool
	// Event is the event kind (built-in or custom name) for `event` clauses.
	Event string
	Where string
}

type PriorityStmt struct {
	Pos
	Value float64
}

type MatchStmt struct {
	Pos
	Pattern Pattern
}

type WhenBranch struct {
	Pos
	Pattern Pattern
	Body    []Stmt
}

type WhenStmt struct {
	Pos
	Branches []WhenBranch
}

// BotStmt is `bot INTENT` or `bot "literal text"`.
type BotStmt struct {
	Pos
	Intent string
	Text   string
}

type Arg struct {
	Name string
	Expr string
}

// ActionStmt is `[$v =] execute|run|start NAME(args)`.
type ActionStmt struct {
	Pos
	Name    string
	Args    []Arg
	Binding string
	Wait    bool
}

type AssignStmt struct {
	Pos
	Var  string
	Expr string
}

type IfStmt struct {
	Pos
	Cond string
	Then []Stmt
	Else []Stmt
}

type LabelStmt struct {
	Pos
	Name string
}

type GotoStmt struct {
	Pos
	Name string
}

type StopStmt struct {
	Pos
}

// DoStmt inlines another flow or subflow.
type DoStmt struct {
	Pos
	Flow string
}

func (*MessageDef) define() {}
func (*FlowDef) define()    {}

func (*PriorityStmt) stmt() {}
func (*MatchStmt) stmt()    {}
func (*WhenStmt) stmt()     {}
func (*BotStmt) stmt()      {}
func (*ActionStmt) stmt()   {}
func (*AssignStmt) stmt()   {}
func (*IfStmt) stmt()       {}
func (*LabelStmt) stmt()    {}
func (*GotoStmt) stmt()     {}
func (*StopStmt) stmt()     {}
func (*DoStmt) stmt()       {}
