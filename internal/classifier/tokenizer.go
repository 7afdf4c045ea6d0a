package classifier

import (
	"fmt"
	"os"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Piece is one WordPiece sub-token with its byte interval in the source.
type Piece struct {
	ID         int64
	Start, End int
}

// Encoding is one model input window. Offsets has one entry per input id;
// CLS and SEP carry zero-width offsets.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Offsets       [][2]int
}

type WordPieceTokenizer struct {
	vocab      map[string]int64
	unkID      int64
	clsID      int64
	sepID      int64
	maxWordLen int
	maxSeqLen  int
	lowercase  bool
}

func NewWordPieceTokenizer(tokenizerPath string) (*WordPieceTokenizer, error) {
	vocab, lowercase, err := loadTokenizerConfig(tokenizerPath)
	if err != nil {
		return nil, err
	}
	t := &WordPieceTokenizer{vocab: vocab, maxWordLen: 100, maxSeqLen: 512, lowercase: lowercase}
	for name, dst := range map[string]*int64{"[UNK]": &t.unkID, "[CLS]": &t.clsID, "[SEP]": &t.sepID} {
		id, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("tokenizer vocab is missing %s", name)
		}
		*dst = id
	}
	return t, nil
}

func loadTokenizerConfig(path string) (map[string]int64, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, false, fmt.Errorf("tokenizer.json is not valid json")
	}
	vocab := map[string]int64{}
	gjson.GetBytes(raw, "model.vocab").ForEach(func(k, v gjson.Result) bool {
		vocab[k.String()] = v.Int()
		return true
	})
	if len(vocab) == 0 {
		return nil, false, fmt.Errorf("tokenizer.json model.vocab is empty")
	}
	lowercase := true
	if lc := gjson.GetBytes(raw, "normalizer.lowercase"); lc.Exists() {
		lowercase = lc.Bool()
	}
	return vocab, lowercase, nil
}

// MaxPieces is the number of sub-tokens that fit in one window.
func (t *WordPieceTokenizer) MaxPieces() int { return t.maxSeqLen - 2 }

// Pieces splits text into WordPiece sub-tokens with byte offsets.
func (t *WordPieceTokenizer) Pieces(text string) []Piece {
	out := make([]Piece, 0, len(text)/3)
	for _, w := range splitWords(text) {
		out = append(out, t.wordPieces(text, w)...)
	}
	return out
}

// Encode wraps pieces in CLS and SEP.
func (t *WordPieceTokenizer) Encode(pieces []Piece) *Encoding {
	n := len(pieces) + 2
	enc := &Encoding{
		InputIDs:      make([]int64, 0, n),
		AttentionMask: make([]int64, 0, n),
		TokenTypeIDs:  make([]int64, n),
		Offsets:       make([][2]int, 0, n),
	}
	enc.append(t.clsID, 0, 0)
	for _, p := range pieces {
		enc.append(p.ID, p.Start, p.End)
	}
	enc.append(t.sepID, 0, 0)
	return enc
}

func (e *Encoding) append(id int64, start, end int) {
	e.InputIDs = append(e.InputIDs, id)
	e.AttentionMask = append(e.AttentionMask, 1)
	e.Offsets = append(e.Offsets, [2]int{start, end})
}

type word struct {
	start, end int
}

func (t *WordPieceTokenizer) wordPieces(text string, w word) []Piece {
	unk := []Piece{{ID: t.unkID, Start: w.start, End: w.end}}
	s := text[w.start:w.end]
	n := utf8.RuneCountInString(s)
	if n > t.maxWordLen {
		return unk
	}
	runes := make([]rune, 0, n)
	offs := make([]int, 0, n+1)
	for i, r := range s {
		if t.lowercase {
			r = unicode.ToLower(r)
		}
		runes = append(runes, r)
		offs = append(offs, w.start+i)
	}
	offs = append(offs, w.end)

	out := make([]Piece, 0, 2)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := int64(-1)
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return unk
		}
		out = append(out, Piece{ID: found, Start: offs[start], End: offs[end]})
		start = end
	}
	return out
}

// splitWords splits on whitespace and control characters and emits each
// punctuation or symbol rune as its own word.
func splitWords(text string) []word {
	words := make([]word, 0)
	start := -1
	flush := func(end int) {
		if start >= 0 {
			words = append(words, word{start: start, end: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError:
			flush(i)
		case isPunct(r):
			flush(i)
			words = append(words, word{start: i, end: i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return words
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
