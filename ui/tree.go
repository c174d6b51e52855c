// Package ui holds the box drawing helpers shared by the console reports.
package ui

import (
	"strings"
	"unicode/utf8"
)

// Tree connectors
const (
	Branch     = "├── "
	LastBranch = "└── "
	Continue   = "│   "
	Indent     = "    "
)

// Box borders
const (
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"
	boxVertical    = "│"
	boxHorizontal  = "─"
	boxTeeRight    = "├"
	boxTeeLeft     = "┤"
)

// TreePrefix returns the connector drawn before a node. ancestorsLast holds,
// from the outermost ancestor down, whether each ancestor below the root was
// the last of its siblings. The root itself (depth 0) gets no prefix.
func TreePrefix(depth int, isLast bool, ancestorsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(ancestorsLast) && ancestorsLast[i] {
			b.WriteString(Indent)
		} else {
			b.WriteString(Continue)
		}
	}
	if isLast {
		b.WriteString(LastBranch)
	} else {
		b.WriteString(Branch)
	}
	return b.String()
}

// Box draws title and lines inside a border at least width runes wide
func Box(title string, lines []string, width int) string {
	inner := utf8.RuneCountInString(title)
	for _, l := range lines {
		inner = max(inner, utf8.RuneCountInString(l))
	}
	width = max(width, inner+4)

	var b strings.Builder
	rule := strings.Repeat(boxHorizontal, width-2)
	b.WriteString(boxTopLeft + rule + boxTopRight + "\n")
	b.WriteString(boxLine(title, width))
	if len(lines) > 0 {
		b.WriteString(boxTeeRight + rule + boxTeeLeft + "\n")
		for _, l := range lines {
			b.WriteString(boxLine(l, width))
		}
	}
	b.WriteString(boxBottomLeft + rule + boxBottomRight + "\n")
	return b.String()
}

func boxLine(content string, width int) string {
	padding := width - 4 - utf8.RuneCountInString(content)
	return boxVertical + " " + content + strings.Repeat(" ", padding+1) + boxVertical + "\n"
}
