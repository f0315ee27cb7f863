package browser

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// pageKind is what the WhatsApp Web page is currently showing.
type pageKind int

const (
	pageLoading pageKind = iota
	pagePairing
	pageChats
	pageConflict
)

func (k pageKind) String() string {
	switch k {
	case pagePairing:
		return "pairing"
	case pageChats:
		return "chats"
	case pageConflict:
		return "conflict"
	default:
		return "loading"
	}
}

// pageState is the result of inspecting a page snapshot.
type pageState struct {
	kind pageKind
	ref  string // QR payload when kind is pagePairing
}

var conflictMarkers = []string{
	"whatsapp is open in another window",
	"whatsapp est ouvert dans une autre fenêtre",
}

// detectPage classifies a WhatsApp Web HTML snapshot.
func detectPage(raw string) (pageState, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return pageState{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var (
		ref      string
		chats    bool
		conflict bool
	)
	walk(doc, func(n *html.Node) bool {
		switch n.Type {
		case html.ElementNode:
			if v := attr(n, "data-ref"); v != "" && ref == "" {
				ref = v
			}
			if attr(n, "id") == "pane-side" || attr(n, "data-testid") == "chat-list" {
				chats = true
			}
		case html.TextNode:
			text := strings.ToLower(n.Data)
			for _, marker := range conflictMarkers {
				if strings.Contains(text, marker) {
					conflict = true
				}
			}
		}
		return true
	})

	switch {
	case conflict:
		return pageState{kind: pageConflict}, nil
	case ref != "":
		return pageState{kind: pagePairing, ref: ref}, nil
	case chats:
		return pageState{kind: pageChats}, nil
	}
	return pageState{kind: pageLoading}, nil
}

// parseChatList reads the chat pane markup. Only chats whose title is a phone number get a
// chat id; saved contacts show a name and are returned with an empty ChatID.
func parseChatList(raw string) ([]types.ChatSummary, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat list: %w", err)
	}

	var chats []types.ChatSummary
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || attr(n, "role") != "listitem" {
			return true
		}

		var titles []string
		walk(n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.Data == "span" {
				if t := strings.TrimSpace(attr(c, "title")); t != "" {
					titles = append(titles, t)
				}
			}
			return true
		})
		if len(titles) == 0 {
			return false
		}

		chat := types.ChatSummary{Name: titles[0]}
		if len(titles) > 1 {
			chat.LastMessage = titles[1]
		}
		if digits, ok := phoneDigits(chat.Name); ok {
			chat.ChatID = digits + "@c.us"
		}
		chats = append(chats, chat)
		return false
	})
	return chats, nil
}

// phoneDigits extracts the digits of a displayed phone number such as "+33 6 12 34 56 78".
func phoneDigits(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '\u00a0':
		default:
			return "", false
		}
	}
	if b.Len() < 8 {
		return "", false
	}
	return b.String(), true
}

// walk visits n and its descendants depth-first. Returning false skips the children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
