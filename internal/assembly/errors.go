package assembly

import "fmt"

// SyntaxError reports a structural problem: unclosed block, wrong argument
// count, misplaced operator, unknown instruction.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Message)
}

// PixelIdError reports an unknown `{literal}` pixel reference encountered
// during per-dialect emission.
type PixelIdError struct {
	Literal string
}

func (e *PixelIdError) Error() string {
	return fmt.Sprintf("unknown pixel literal {%s}", e.Literal)
}
