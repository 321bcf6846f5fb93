package storage

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap"
)

// Inbox é o nome da pasta raiz de todo armazenamento.
const Inbox = "INBOX"

// Message representa uma mensagem lida de um backend
type Message struct {
	UID    string
	Folder string
	Raw    []byte
	Flags  []string // flags IMAP, como \Seen e \Recent
}

// HasFlag informa se a mensagem tem a flag (comparação sem caixa).
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// NormalizeFolder devolve Inbox para "" e qualquer grafia de INBOX.
func NormalizeFolder(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, Inbox) {
		return Inbox
	}
	return name
}

// SplitFolder divide um nome hierárquico ("a.b") em segmentos.
// Segmentos vazios ou com separadores de caminho são rejeitados.
func SplitFolder(name string) ([]string, error) {
	name = NormalizeFolder(name)
	if name == Inbox {
		return nil, nil
	}
	segs := strings.Split(name, ".")
	for _, seg := range segs {
		if seg == "" || strings.ContainsAny(seg, `/\`) {
			return nil, ErrInvalidFolder
		}
	}
	return segs, nil
}

// MatchFolders filtra a lista ordenada de pastas (sem a raiz) pelas regras
// de listagem: parent "" ou INBOX é a raiz; pattern "*" ou "" casa com todos
// os descendentes de parent; qualquer outro pattern casa apenas com o filho
// de nome exato. A ordem de all é preservada.
func MatchFolders(all []string, parent, pattern string) ([]string, error) {
	parent = NormalizeFolder(parent)
	prefix := ""
	if parent != Inbox {
		found := false
		for _, name := range all {
			if name == parent {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrFolderNotFound
		}
		prefix = parent + "."
	}

	matchAll := pattern == "" || pattern == "*"
	result := []string{}
	for _, name := range all {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if matchAll || strings.TrimPrefix(name, prefix) == pattern {
			result = append(result, name)
		}
	}
	return result, nil
}

var flagLetters = map[string]byte{
	imap.DraftFlag:    'D',
	imap.FlaggedFlag:  'F',
	imap.AnsweredFlag: 'R',
	imap.SeenFlag:     'S',
	imap.DeletedFlag:  'T',
}

// FlagLetters codifica as flags IMAP no estilo maildir ("RS" para
// \Answered e \Seen). Flags sem letra, incluindo \Recent, são ignoradas.
func FlagLetters(flags []string) string {
	var letters []byte
	for _, f := range flags {
		for name, l := range flagLetters {
			if strings.EqualFold(f, name) {
				letters = append(letters, l)
			}
		}
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })

	// remove repetidas
	out := letters[:0]
	for i, l := range letters {
		if i == 0 || letters[i-1] != l {
			out = append(out, l)
		}
	}
	return string(out)
}

// ParseFlagLetters é o inverso de FlagLetters.
func ParseFlagLetters(s string) []string {
	var flags []string
	for i := 0; i < len(s); i++ {
		for name, l := range flagLetters {
			if s[i] == l {
				flags = append(flags, name)
			}
		}
	}
	return flags
}

// WithRecent acrescenta \Recent às flags quando recent é verdadeiro.
func WithRecent(flags []string, recent bool) []string {
	if !recent {
		return flags
	}
	return append(append([]string(nil), flags...), imap.RecentFlag)
}

// WithoutRecent remove \Recent das flags.
func WithoutRecent(flags []string) []string {
	var out []string
	for _, f := range flags {
		if !strings.EqualFold(f, imap.RecentFlag) {
			out = append(out, f)
		}
	}
	return out
}
