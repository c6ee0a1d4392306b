package embedder

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/crimson-sun/pooling/pkg/pooling"
)

// maxWordRunes is the longest word WordPiece will try to split; longer words
// become [UNK].
const maxWordRunes = 200

// tokenized is one encoder batch. Token slices are flat [batchSize * seqLen]
// and the attention mask doubles as the pooling mask.
type tokenized struct {
	inputIDs      []int64
	tokenTypeIDs  []int64
	attentionMask pooling.Mask
	batchSize     int64
	seqLen        int64
}

// tokenizer is a lowercasing BERT WordPiece tokenizer.
type tokenizer struct {
	vocab  *vocab
	maxLen int
}

func newTokenizer(vocabPath string, maxLen int) (*tokenizer, error) {
	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return &tokenizer{vocab: v, maxLen: maxLen}, nil
}

// encode returns the IDs of [CLS] text [SEP], truncated so the whole
// sequence fits in maxLen.
func (t *tokenizer) encode(text string) []int64 {
	pieces := t.wordpiece(splitWords(normalize(text)))
	if limit := t.maxLen - 2; len(pieces) > limit {
		pieces = pieces[:max(limit, 0)]
	}

	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, t.vocab.cls)
	for _, p := range pieces {
		ids = append(ids, t.vocab.id(p))
	}
	return append(ids, t.vocab.sep)
}

// tokenizeBatch encodes texts and right-pads them with [PAD] to the longest
// sequence in the batch.
func (t *tokenizer) tokenizeBatch(texts []string) tokenized {
	if len(texts) == 0 {
		return tokenized{}
	}

	seqs := make([][]int64, len(texts))
	seqLen := 0
	for i, text := range texts {
		seqs[i] = t.encode(text)
		seqLen = max(seqLen, len(seqs[i]))
	}

	n := len(texts) * seqLen
	b := tokenized{
		inputIDs:      make([]int64, n),
		tokenTypeIDs:  make([]int64, n),
		attentionMask: pooling.Mask{Batch: len(texts), Tokens: seqLen, Data: make([]int64, n)},
		batchSize:     int64(len(texts)),
		seqLen:        int64(seqLen),
	}
	for i, ids := range seqs {
		row := i * seqLen
		for j := 0; j < seqLen; j++ {
			if j < len(ids) {
				b.inputIDs[row+j] = ids[j]
				b.attentionMask.Data[row+j] = 1
			} else {
				b.inputIDs[row+j] = t.vocab.pad
			}
		}
	}
	return b
}

// wordpiece splits each word greedily into the longest vocabulary prefixes,
// marking continuation pieces with "##".
func (t *tokenizer) wordpiece(words []string) []string {
	var out []string
	for _, w := range words {
		out = append(out, t.splitWord(w)...)
	}
	return out
}

func (t *tokenizer) splitWord(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{unkToken}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var piece string
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = subwordPrefix + cand
			}
			if t.vocab.has(cand) {
				piece = cand
				break
			}
		}
		if piece == "" {
			return []string{unkToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// normalize drops control characters, maps whitespace to spaces, isolates
// CJK ideographs, lowercases and strips accents.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
		case isSpace(r):
			b.WriteByte(' ')
		case isCJK(r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	lowered := strings.ToLower(b.String())
	b.Reset()
	for _, r := range norm.NFD.String(lowered) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitWords splits on whitespace and emits every punctuation rune as its
// own word.
func splitWords(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		start := 0
		for i, r := range field {
			if !isPunct(r) {
				continue
			}
			if i > start {
				words = append(words, field[start:i])
			}
			words = append(words, string(r))
			start = i + len(string(r))
		}
		if start < len(field) {
			words = append(words, field[start:])
		}
	}
	return words
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}

// isPunct treats all non-alphanumeric printable ASCII as punctuation, as BERT does.
func isPunct(r rune) bool {
	if (r >= '!' && r <= '/') || (r >= ':' && r <= '@') ||
		(r >= '[' && r <= '`') || (r >= '{' && r <= '~') {
		return true
	}
	return unicode.IsPunct(r)
}

var cjkRanges = [][2]rune{
	{0x4E00, 0x9FFF},
	{0x3400, 0x4DBF},
	{0x20000, 0x2A6DF},
	{0x2A700, 0x2B73F},
	{0x2B740, 0x2B81F},
	{0x2B820, 0x2CEAF},
	{0xF900, 0xFAFF},
	{0x2F800, 0x2FA1F},
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}
