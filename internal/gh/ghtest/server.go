// Package ghtest provides an in-process fake of the subset of the GitHub
// GraphQL API that bifrost uses.
package ghtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

const (
	Owner = "mock"
	Repo  = "mock"
)

// Kinds of requests that are counted by the server.
const (
	CallBranchHead = "branchHead"
	CallFile       = "file"
	CallTree       = "tree"
	CallCommit     = "commit"
)

type Server struct {
	t *testing.T

	mu       sync.Mutex
	branches map[string]*mockBranch
	calls    map[string]int
	seq      int
	// textLimit is the number of bytes of a blob returned as text before
	// it is truncated. Zero means no limit.
	textLimit int

	*httptest.Server
}

type mockBranch struct {
	head  string
	files map[string]string
}

// RunServer starts a fake GitHub GraphQL server. The server has a single
// branch "main" with one commit containing README.md.
func RunServer(t *testing.T) *Server {
	s := &Server{
		t:        t,
		branches: map[string]*mockBranch{},
		calls:    map[string]int{},
	}
	s.commitLocked("main", "Initial commit", map[string]string{"README.md": "# Hello World"}, nil)
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// Head returns the current head of the branch (or "" if there is no such
// branch).
func (s *Server) Head(branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.branches[branch]; ok {
		return b.head
	}
	return ""
}

// File returns the content of the file at the head of the branch.
func (s *Server) File(branch, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branch]
	if !ok {
		return "", false
	}
	content, ok := b.files[path]
	return content, ok
}

// Push simulates another writer committing to the branch. It creates the
// branch if it doesn't exist and returns the new head.
func (s *Server) Push(branch string, files map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(branch, "External commit", files, nil)
}

// TruncateTextAt makes the server truncate blob text longer than n bytes,
// like GitHub does for large files.
func (s *Server) TruncateTextAt(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textLimit = n
}

// Calls returns the number of requests of the given kind the server handled.
func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   any            `json:"data"`
	Errors []graphqlError `json:"errors,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Logf("Failed to decode request: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if owner, _ := req.Variables["owner"].(string); owner != "" && owner != Owner {
		s.respond(w, graphqlResponse{Errors: []graphqlError{{
			Type:    "NOT_FOUND",
			Message: fmt.Sprintf("Could not resolve to a Repository with the name '%s/%s'.", owner, req.Variables["repo"]),
		}}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// These are ugly, but this is easy way to tell which query is being used.
	switch {
	case strings.Contains(req.Query, "createCommitOnBranch"):
		s.calls[CallCommit]++
		s.respond(w, s.handleCommit(req))
	case strings.Contains(req.Query, "ref(qualifiedName:"):
		s.calls[CallBranchHead]++
		s.respond(w, s.handleBranchHead(req))
	case strings.Contains(req.Query, "... on Tree"):
		s.calls[CallTree]++
		s.respond(w, s.handleObject(req, true))
	case strings.Contains(req.Query, "... on Blob"):
		s.calls[CallFile]++
		s.respond(w, s.handleObject(req, false))
	default:
		s.t.Logf("Received unexpected query: %s", req.Query)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) respond(w http.ResponseWriter, res graphqlResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.t.Logf("Failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func repository(v any) graphqlResponse {
	return graphqlResponse{Data: map[string]any{"repository": v}}
}

func (s *Server) handleBranchHead(req graphqlRequest) graphqlResponse {
	qualifiedName, _ := req.Variables["qualifiedName"].(string)
	b, ok := s.branches[strings.TrimPrefix(qualifiedName, "refs/heads/")]
	if !ok {
		return repository(map[string]any{"ref": nil})
	}
	return repository(map[string]any{
		"ref": map[string]any{
			"target": map[string]any{"oid": b.head},
		},
	})
}

func (s *Server) handleObject(req graphqlRequest, tree bool) graphqlResponse {
	expression, _ := req.Variables["expression"].(string)
	branchName, p, _ := strings.Cut(expression, ":")
	b, ok := s.branches[branchName]
	if !ok {
		return repository(map[string]any{"object": nil})
	}

	if content, ok := b.files[p]; ok {
		text, truncated := content, false
		if s.textLimit > 0 && len(text) > s.textLimit {
			text, truncated = text[:s.textLimit], true
		}
		return repository(map[string]any{"object": map[string]any{
			"__typename":  "Blob",
			"oid":         blobOID(content),
			"byteSize":    len(content),
			"isBinary":    false,
			"isTruncated": truncated,
			"text":        text,
		}})
	}

	entries := listDir(b.files, p)
	if len(entries) == 0 && p != "" {
		return repository(map[string]any{"object": nil})
	}
	if !tree {
		return repository(map[string]any{"object": map[string]any{"__typename": "Tree"}})
	}
	return repository(map[string]any{"object": map[string]any{
		"__typename": "Tree",
		"entries":    entries,
	}})
}

func listDir(files map[string]string, dir string) []map[string]any {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seenDirs := map[string]bool{}
	var entries []map[string]any
	for p, content := range files {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		if name, _, isDir := strings.Cut(rest, "/"); isDir {
			if seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			entries = append(entries, map[string]any{
				"name":   name,
				"path":   prefix + name,
				"type":   "tree",
				"oid":    blobOID("tree:" + prefix + name),
				"object": map[string]any{},
			})
			continue
		}
		entries = append(entries, map[string]any{
			"name":   rest,
			"path":   p,
			"type":   "blob",
			"oid":    blobOID(content),
			"object": map[string]any{"byteSize": len(content)},
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["name"].(string) < entries[j]["name"].(string)
	})
	return entries
}

type commitInput struct {
	Branch struct {
		RepositoryNameWithOwner string `json:"repositoryNameWithOwner"`
		BranchName              string `json:"branchName"`
	} `json:"branch"`
	Message struct {
		Headline string `json:"headline"`
		Body     string `json:"body"`
	} `json:"message"`
	FileChanges struct {
		Additions []struct {
			Path     string `json:"path"`
			Contents string `json:"contents"`
		} `json:"additions"`
		Deletions []struct {
			Path string `json:"path"`
		} `json:"deletions"`
	} `json:"fileChanges"`
	ExpectedHeadOid string `json:"expectedHeadOid"`
}

func (s *Server) handleCommit(req graphqlRequest) graphqlResponse {
	raw, err := json.Marshal(req.Variables["input"])
	if err != nil {
		return graphqlResponse{Errors: []graphqlError{{Message: err.Error()}}}
	}
	var input commitInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return graphqlResponse{Errors: []graphqlError{{Message: err.Error()}}}
	}

	b, ok := s.branches[input.Branch.BranchName]
	if !ok {
		return graphqlResponse{Errors: []graphqlError{{
			Type:    "NOT_FOUND",
			Message: fmt.Sprintf("A ref named \"%s\" does not exist.", input.Branch.BranchName),
		}}}
	}
	if b.head != input.ExpectedHeadOid {
		return graphqlResponse{Errors: []graphqlError{{
			Type:    "STALE_DATA",
			Message: fmt.Sprintf("Expected branch to point to \"%s\" but it did not. Pull and try again.", input.ExpectedHeadOid),
		}}}
	}

	additions := map[string]string{}
	for _, a := range input.FileChanges.Additions {
		content, err := base64.StdEncoding.DecodeString(a.Contents)
		if err != nil {
			return graphqlResponse{Errors: []graphqlError{{Message: err.Error()}}}
		}
		additions[a.Path] = string(content)
	}
	var deletions []string
	for _, d := range input.FileChanges.Deletions {
		if _, ok := b.files[d.Path]; !ok {
			return graphqlResponse{Errors: []graphqlError{{
				Message: fmt.Sprintf("A path was requested for deletion which does not exist as of commit oid `%s`", b.head),
			}}}
		}
		deletions = append(deletions, d.Path)
	}

	oid := s.commitLocked(input.Branch.BranchName, input.Message.Headline, additions, deletions)
	return graphqlResponse{Data: map[string]any{
		"createCommitOnBranch": map[string]any{
			"commit": map[string]any{
				"oid":       oid,
				"url":       fmt.Sprintf("https://github.invalid/%s/%s/commit/%s", Owner, Repo, oid),
				"signature": map[string]any{"isValid": true},
			},
		},
	}}
}

func (s *Server) commitLocked(branch, message string, additions map[string]string, deletions []string) string {
	b, ok := s.branches[branch]
	if !ok {
		b = &mockBranch{files: map[string]string{}}
		s.branches[branch] = b
	}
	for p, content := range additions {
		b.files[p] = content
	}
	for _, p := range deletions {
		delete(b.files, p)
	}
	s.seq++
	b.head = blobOID(fmt.Sprintf("commit:%d:%s:%s", s.seq, b.head, message))
	return b.head
}

func blobOID(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
