package storage

import (
	"sort"
	"sync"
)

// Backend é o armazenamento físico posicional de uma caixa de correio.
// As mensagens de uma pasta são endereçadas pela posição (1..Count) na
// listagem atual da pasta; o uid devolvido por Append é único dentro do
// backend. Uma pasta vazia ("") nos argumentos significa a pasta selecionada.
type Backend interface {
	// Append grava a mensagem na pasta e devolve o uid atribuído.
	Append(raw []byte, folder string, flags []string, recent bool) (string, error)
	// Remove exclui a mensagem na posição seq da pasta.
	Remove(seq int, folder string) error
	// Read lê o conteúdo bruto e as flags da mensagem na posição seq.
	Read(seq int, folder string) (*Message, error)

	// SelectFolder muda a pasta selecionada. O estado é compartilhado por
	// todos os usuários do backend.
	SelectFolder(folder string) error
	// CurrentFolder retorna a pasta selecionada.
	CurrentFolder() string

	Count(folder string) (int, error)
	SeqForUID(uid, folder string) (int, error)
	UIDForSeq(seq int, folder string) (string, error)

	// CreateFolder cria a pasta e os ancestrais implícitos nos pontos.
	CreateFolder(path string) error
	// ListFolders lista as pastas sob parent que casam com pattern, em
	// ordem de criação. Veja MatchFolders.
	ListFolders(parent, pattern string) ([]string, error)

	Close() error
}

// Destroyer é implementado por backends cujo armazenamento físico não se
// resume ao diretório configurado (por exemplo bancos de dados). Destroy
// apaga tudo o que o backend gravou e o fecha.
type Destroyer interface {
	Destroy() error
}

// Config contém as configurações para abrir um backend.
type Config struct {
	// Name identifica o armazenamento; alguns drivers o usam como escopo.
	Name string

	// Type é o nome do driver (ex.: "directory", "maildir", "sqlite").
	Type string

	// Path é o diretório ou arquivo do armazenamento.
	Path string

	// DSN é a string de conexão para drivers de banco de dados.
	DSN string
}

// Factory cria um Backend a partir da configuração.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adiciona um driver ao registro.
// Entra em pânico com nome vazio, factory nula ou nome repetido.
func Register(name string, factory Factory) {
	if name == "" {
		panic("storage: Register chamado com nome vazio")
	}
	if factory == nil {
		panic("storage: Register chamado com factory nula")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("storage: Register chamado duas vezes para " + name)
	}
	registry[name] = factory
}

// Open cria um Backend usando o driver registrado para cfg.Type.
func Open(cfg Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, &UnsupportedTypeError{Type: cfg.Type}
	}
	return factory(cfg)
}

// RegisteredTypes retorna os nomes dos drivers registrados, ordenados.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
