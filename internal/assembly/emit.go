package assembly

import (
	"strconv"
	"strings"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

// roundingOps map each rounding operator to the name that replaces it in
// place (`$x ~= $y` becomes `$x round $y`); no call syntax is added.
var roundingOps = map[string]string{
	"~=": "round",
	"~>": "ceil",
	"~<": "floor",
}

// emitter walks a parsed Program and produces one dialect's target text,
// substituting {pixelLiteral} tokens with that dialect's quoted string ID.
type emitter struct {
	dialect pixel.DialectId
	conv    *pixel.Converter
	out     strings.Builder
	indent  int
}

// Emit renders prog for dialect, returning the target program text, or a
// *PixelIdError if a pixel literal has no mapping in that dialect.
func Emit(prog *Program, dialect pixel.DialectId, conv *pixel.Converter) (string, error) {
	e := &emitter{dialect: dialect, conv: conv}
	if err := e.block(prog.Statements); err != nil {
		return "", err
	}
	return e.out.String(), nil
}

func (e *emitter) writeLine(s string) {
	e.out.WriteString(strings.Repeat("  ", e.indent))
	e.out.WriteString(s)
	e.out.WriteByte('\n')
}

func (e *emitter) block(stmts []Node) error {
	for _, n := range stmts {
		if err := e.stmt(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) stmt(n Node) error {
	switch s := n.(type) {
	case *CallStmt:
		args, err := e.exprList(s.Args)
		if err != nil {
			return err
		}
		e.writeLine(s.Lowering + "(" + strings.Join(args, ", ") + ")")
	case *IfStmt:
		for i, br := range s.Branches {
			head := "if"
			if i > 0 {
				head = "elif"
			}
			if br.Kind == "ELSE" {
				e.writeLine("else {")
			} else {
				cond, err := e.expr(br.Cond)
				if err != nil {
					return err
				}
				e.writeLine(head + " (" + cond + ") {")
			}
			e.indent++
			if err := e.block(br.Body); err != nil {
				return err
			}
			e.indent--
			e.writeLine("}")
		}
	case *LoopStmt:
		head, err := e.expr(s.Args)
		if err != nil {
			return err
		}
		kw := "while"
		if s.Kind == "FOR" {
			kw = "for"
		}
		e.writeLine(kw + " (" + head + ") {")
		e.indent++
		if err := e.block(s.Body); err != nil {
			return err
		}
		e.indent--
		e.writeLine("}")
	case *FunctionStmt:
		head, err := e.expr(s.Args)
		if err != nil {
			return err
		}
		e.writeLine("function (" + head + ") {")
		e.indent++
		if err := e.block(s.Body); err != nil {
			return err
		}
		e.indent--
		e.writeLine("}")
	case *BreakStmt:
		e.writeLine("break")
	case *ContinueStmt:
		e.writeLine("continue")
	}
	return nil
}

// exprList renders each top-level argument token as its own expression.
func (e *emitter) exprList(toks []token) ([]string, error) {
	out := make([]string, len(toks))
	for i, t := range toks {
		s, err := e.exprToken(t)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// expr renders a run of tokens (e.g. a WHILE/IF condition) as one expression,
// space-joined after per-token lowering.
func (e *emitter) expr(toks []token) (string, error) {
	parts, err := e.exprList(toks)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

func (e *emitter) exprToken(t token) (string, error) {
	switch t.kind {
	case tokPixel:
		str, ok := e.conv.DialectStringForStandardName(e.dialect, t.text)
		if !ok {
			return "", &PixelIdError{Literal: t.text}
		}
		return strconv.Quote(str), nil
	case tokString:
		return strconv.Quote(t.text), nil
	case tokVariable:
		return "$" + t.text, nil
	case tokArrayAccess:
		return "$" + t.text, nil
	case tokParen:
		inner, err := tokenize(t.text)
		if err != nil {
			return "", &SyntaxError{Message: err.Error()}
		}
		s, err := e.expr(inner)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case tokOperator:
		if lowered, ok := roundingOps[t.text]; ok {
			return lowered, nil
		}
		if t.text == "^" {
			return "pow", nil
		}
		return t.text, nil
	default:
		return t.text, nil
	}
}
