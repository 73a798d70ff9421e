// Package server implements the coven language server.
package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/vm"
)

const lspName = "coven-lsp"

var log = commonlog.GetLogger("coven.lsp")

// keywordDocs are the hover texts for reserved words.
var keywordDocs = map[string]string{
	"ritual":    "Declares a ritual: `ritual name(params) { body }`. Without a name it is a ritual literal.",
	"let":       "Binds a new name in the current scope.",
	"summon":    "Starts a ritual call as a new spirit and yields its handle.",
	"await":     "Blocks until a spirit is terminal and yields its result, or `banished`.",
	"banish":    "Cancels a spirit and every spirit it summoned.",
	"engrave":   "Declares a Grimoire key. Fails if the key is already bound.",
	"inscribe":  "Overwrites an existing Grimoire key.",
	"recall":    "Reads a Grimoire key.",
	"transmute": "Atomically updates a Grimoire key with a ritual or `+=`, `-=`, `*=`.",
	"omen":      "Seeded random draw. `omen` is a fair coin; `omen(n)` is true one time in n.",
	"ward":      "`ward { body } rescue e { handler }` runs handler when body raises a recoverable error.",
	"self":      "The handle of the spirit evaluating this expression.",
	"banished":  "The result of awaiting a banished spirit.",
	"say":       "Prints a value on its own line.",
}

// LspServer answers editor requests from parsed documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*analysis // URI → latest analysis

	natives map[string]vm.Native

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[string]*analysis),
		natives: make(map[string]vm.Native),
		version: version,
	}
	for _, n := range vm.Natives() {
		s.natives[n.Name] = n
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run serves on stdio until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

// update re-analyzes a document and returns its diagnostics.
func (s *LspServer) update(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	a := analyze(text)
	s.mu.Lock()
	s.docs[string(uri)] = a
	s.mu.Unlock()
	if a.err != nil {
		log.Debugf("%s: %s", uri, a.err)
	}
	return a.diagnostics()
}

func (s *LspServer) document(uri protocol.DocumentUri) *analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	publish(ctx, uri, s.update(uri, params.TextDocument.Text))
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	if len(params.ContentChanges) == 0 {
		return nil
	}
	// Full sync: the last change carries the whole text.
	last := params.ContentChanges[len(params.ContentChanges)-1]
	if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
		uri := params.TextDocument.URI
		publish(ctx, uri, s.update(uri, whole.Text))
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()
	publish(ctx, uri, []protocol.Diagnostic{})
	return nil
}

func publish(ctx *glsp.Context, uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	prefix := extractPrefix(a.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(a, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	word := extractWord(a.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(a, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	a := s.document(uri)
	if a == nil {
		return nil, nil
	}
	word := extractWord(a.text, params.Position)
	if word == "" {
		return nil, nil
	}
	var locations []protocol.Location
	for _, d := range a.lookup(word) {
		locations = append(locations, protocol.Location{URI: uri, Range: d.Range})
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	a := s.document(uri)
	if a == nil {
		return nil, nil
	}
	word := extractWord(a.text, params.Position)
	if word == "" {
		return nil, nil
	}
	var locations []protocol.Location
	if params.Context.IncludeDeclaration {
		for _, d := range a.lookup(word) {
			locations = append(locations, protocol.Location{URI: uri, Range: d.Range})
		}
	}
	for _, u := range a.uses {
		if u.Name == word {
			locations = append(locations, protocol.Location{URI: uri, Range: u.Range})
		}
	}
	return locations, nil
}

func (s *LspServer) complete(a *analysis, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		k := kind
		d := detail
		text := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &k,
			Detail:     &d,
			InsertText: &text,
		})
	}

	for _, d := range a.decls {
		switch d.Kind {
		case declRitual:
			add(d.Name, protocol.CompletionItemKindFunction, signature(d.Name, d.Params))
		case declKey:
			add(d.Name, protocol.CompletionItemKindField, d.Kind.String())
		default:
			add(d.Name, protocol.CompletionItemKindVariable, d.Kind.String())
		}
	}
	for _, n := range vm.Natives() {
		add(n.Name, protocol.CompletionItemKindFunction, fmt.Sprintf("native/%d", n.Arity))
	}
	for _, kw := range parser.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(a *analysis, word string) *protocol.Hover {
	var b strings.Builder
	if decls := a.lookup(word); len(decls) > 0 {
		for i, d := range decls {
			if i > 0 {
				b.WriteString("\n\n")
			}
			if d.Kind == declRitual {
				fmt.Fprintf(&b, "**ritual** `%s`", signature(d.Name, d.Params))
			} else {
				fmt.Fprintf(&b, "**%s** `%s`", d.Kind, d.Name)
			}
			fmt.Fprintf(&b, " (line %d)", d.Range.Start.Line+1)
		}
	} else if n, ok := s.natives[word]; ok {
		fmt.Fprintf(&b, "**native** `%s/%d`\n\n%s", n.Name, n.Arity, n.Doc)
	} else if doc, ok := keywordDocs[word]; ok {
		fmt.Fprintf(&b, "**%s**\n\n%s", word, doc)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func signature(name string, params []string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(params, ", "))
}

// --- Text extraction helpers ---

func cursorLine(text string, pos protocol.Position) ([]rune, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return nil, 0, false
	}
	line := []rune(strings.TrimSuffix(lines[pos.Line], "\r"))
	col := min(int(pos.Character), len(line))
	return line, col, true
}

// extractPrefix returns the identifier fragment before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	return string(line[start:col])
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentRune(line[end]) {
		end++
	}
	word := string(line[start:end])
	if word == "" || unicode.IsDigit(line[start]) {
		return ""
	}
	return word
}

func boolPtr(b bool) *bool {
	return &b
}
