package bifrost

import "github.com/aviator-co/bifrost/internal/batch"

// Change is one file change passed to CommitFiles.
type Change struct {
	Kind    batch.OperationKind
	Path    string
	Content string
}

func Create(path, content string) Change {
	return Change{Kind: batch.OperationCreate, Path: path, Content: content}
}

func Update(path, content string) Change {
	return Change{Kind: batch.OperationUpdate, Path: path, Content: content}
}

func Delete(path string) Change {
	return Change{Kind: batch.OperationDelete, Path: path}
}
