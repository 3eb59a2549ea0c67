package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/chatvault/pkg/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// highlightDelims bracket FTS5 highlight() matches with sentinel strings
// unlikely to occur in ordinary message text, so they can be split back out
// and recolored without fatih/color's escape codes confusing sqlite's own
// tokenizer.
const (
	highlightStart = "\x02"
	highlightEnd   = "\x03"
)

var searchCmd = &cobra.Command{
	Use:   "search DATABASE QUERY",
	Short: "Search archived messages",
	Long: `Run an FTS5 query over every archived message's content, printing
matches with the query terms highlighted.

Examples:
  chatvault search archive.db "deploy failed"
  chatvault search archive.db 'error NEAR/5 timeout'`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	database, query := args[0], args[1]

	st, err := store.Open(database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	v, err := st.Read(func(tx *store.Tx) (any, error) {
		return st.SearchMessages(tx, query, highlightStart, highlightEnd)
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	results := v.([]store.SearchResult)

	if len(results) == 0 {
		fmt.Println("No matches")
		return nil
	}

	highlight := color.New(color.FgBlack, color.BgYellow).SprintFunc()
	header := color.New(color.Bold).SprintFunc()
	for _, r := range results {
		fmt.Printf("%s  #%s  %s\n", header(r.GuildName), r.ChannelName, r.AuthorName)
		fmt.Println(renderHighlight(r.Highlighted, highlight))
		fmt.Println()
	}
	return nil
}

// renderHighlight replaces each highlightStart/highlightEnd-delimited span
// with the same text passed through colorFn, leaving everything else as
// plain text.
func renderHighlight(s string, colorFn func(a ...any) string) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, highlightStart)
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], highlightEnd)
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		b.WriteString(colorFn(rest[start+len(highlightStart) : end]))
		rest = rest[end+len(highlightEnd):]
	}
	return b.String()
}
