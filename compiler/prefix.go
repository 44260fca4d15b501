package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/css/scanner"
)

// prefixedProperties lists, per property, the vendor prefixes still needed
// by the last couple of versions of major browsers.
var prefixedProperties = map[string][]string{
	"appearance":           {"-webkit-", "-moz-"},
	"backdrop-filter":      {"-webkit-"},
	"box-decoration-break": {"-webkit-"},
	"clip-path":            {"-webkit-"},
	"hyphens":              {"-webkit-", "-ms-"},
	"mask":                 {"-webkit-"},
	"mask-image":           {"-webkit-"},
	"tab-size":             {"-moz-"},
	"text-size-adjust":     {"-webkit-", "-moz-", "-ms-"},
	"user-select":          {"-webkit-", "-moz-", "-ms-"},
}

// prefixedValues lists, per property and value, the fallbacks to declare
// first.
var prefixedValues = map[string]map[string][]string{
	"display": {
		"flex":        {"-webkit-box", "-ms-flexbox"},
		"inline-flex": {"-webkit-inline-box", "-ms-inline-flexbox"},
	},
	"position": {
		"sticky": {"-webkit-sticky"},
	},
}

// Prefix adds vendor-prefixed copies of declarations that need them, ahead
// of the declaration itself. Everything else is copied through byte for
// byte.
func Prefix(_ context.Context, src Source, in []byte, _ Options) ([]byte, error) {
	var (
		out    strings.Builder
		stmt   []*scanner.Token
		depth  int
		parens int
	)
	s := scanner.New(string(in))
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			writeTokens(&out, stmt)
			return []byte(out.String()), nil
		case scanner.TokenError:
			msg := fmt.Sprintf("prefix: line %d column %d: %s", tok.Line, tok.Column, tok.Value)
			return nil, &CompileError{File: src.Path, Message: msg}
		case scanner.TokenFunction:
			parens++
		case scanner.TokenChar:
			switch {
			case tok.Value == "(":
				parens++
			case tok.Value == ")" && parens > 0:
				parens--
			case parens > 0:
			case tok.Value == "{":
				// Whatever precedes a block is a selector or an
				// at-rule prelude.
				writeTokens(&out, stmt)
				out.WriteString("{")
				stmt = stmt[:0]
				depth++
				continue
			case tok.Value == "}":
				writeDeclaration(&out, stmt)
				out.WriteString("}")
				stmt = stmt[:0]
				if depth > 0 {
					depth--
				}
				continue
			case tok.Value == ";":
				if depth > 0 {
					writeDeclaration(&out, stmt)
				} else {
					writeTokens(&out, stmt)
				}
				out.WriteString(";")
				stmt = stmt[:0]
				continue
			}
		}
		stmt = append(stmt, tok)
	}
}

// writeDeclaration writes one declaration, preceded by any prefixed
// variants, each of which is terminated with a semicolon.
func writeDeclaration(out *strings.Builder, stmt []*scanner.Token) {
	// Leading whitespace and comments, property, whitespace, ":"
	i := 0
	for i < len(stmt) && (stmt[i].Type == scanner.TokenS || stmt[i].Type == scanner.TokenComment) {
		i++
	}
	lead := stmt[:i]
	if i >= len(stmt) || stmt[i].Type != scanner.TokenIdent {
		writeTokens(out, stmt)
		return
	}
	prop := stmt[i]
	j := i + 1
	for j < len(stmt) && stmt[j].Type == scanner.TokenS {
		j++
	}
	if j >= len(stmt) || stmt[j].Type != scanner.TokenChar || stmt[j].Value != ":" {
		writeTokens(out, stmt)
		return
	}
	colon := stmt[i+1 : j+1]
	value := stmt[j+1:]

	name := strings.ToLower(prop.Value)
	writeTokens(out, lead)
	for _, prefix := range prefixedProperties[name] {
		out.WriteString(prefix + prop.Value)
		writeTokens(out, colon)
		writeTokens(out, value)
		out.WriteString(";")
	}
	if fallbacks, ok := prefixedValues[name]; ok {
		v := strings.ToLower(strings.TrimSpace(joinTokens(value)))
		important := strings.HasSuffix(v, "!important")
		v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
		for _, fallback := range fallbacks[v] {
			out.WriteString(prop.Value)
			writeTokens(out, colon)
			out.WriteString(fallback)
			if important {
				out.WriteString(" !important")
			}
			out.WriteString(";")
		}
	}
	writeTokens(out, stmt[i:])
}

func writeTokens(out *strings.Builder, toks []*scanner.Token) {
	for _, tok := range toks {
		out.WriteString(tok.Value)
	}
}

func joinTokens(toks []*scanner.Token) string {
	var b strings.Builder
	writeTokens(&b, toks)
	return b.String()
}
