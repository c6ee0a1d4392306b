package embedder

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const (
	padToken = "[PAD]"
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"

	subwordPrefix = "##"
)

// vocab maps WordPiece tokens to IDs. A token's ID is its 0-based line
// number in vocab.txt.
type vocab struct {
	ids   map[string]int64
	count int

	pad, unk, cls, sep int64
}

func loadVocab(path string) (*vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	v, err := readVocab(f)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return v, nil
}

func readVocab(r io.Reader) (*vocab, error) {
	v := &vocab{ids: make(map[string]int64, 32000)}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		tok := sc.Text()
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = int64(v.count)
		}
		v.count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read error: %w", err)
	}
	if v.count == 0 {
		return nil, fmt.Errorf("vocab: file is empty")
	}

	for tok, dst := range map[string]*int64{
		padToken: &v.pad,
		unkToken: &v.unk,
		clsToken: &v.cls,
		sepToken: &v.sep,
	} {
		id, ok := v.ids[tok]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", tok)
		}
		*dst = id
	}
	return v, nil
}

// id returns the ID of tok, or the [UNK] ID.
func (v *vocab) id(tok string) int64 {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.unk
}

func (v *vocab) has(tok string) bool {
	_, ok := v.ids[tok]
	return ok
}

func (v *vocab) size() int { return v.count }
