package mailstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/udokmeci/imapd/event"
	"github.com/udokmeci/imapd/storage"
	"go.uber.org/zap"
)

// AddMessage grava raw em folder e devolve o id atribuído (0 sem mapa de
// identidade). Dispara MailAddPre, MailAdd e MailAddPost. Um erro em
// MailAddPost é devolvido junto com o id; a mensagem continua gravada.
func (s *Storage) AddMessage(raw []byte, folder string, flags []string, recent bool) (uint64, error) {
	folder = storage.NormalizeFolder(folder)

	if err := s.bus.Fire(event.MailAddPre, event.Payload{Folder: folder}); err != nil {
		return 0, err
	}

	msg := &storage.Message{
		Folder: folder,
		Raw:    raw,
		Flags:  storage.WithRecent(storage.WithoutRecent(flags), recent),
	}
	var predicted uint64
	if s.ids != nil {
		predicted = s.ids.PeekNextID()
	}
	payload := event.Payload{Folder: folder, Message: msg, Header: parseHeader(raw), ID: predicted}
	if err := s.bus.Fire(event.MailAdd, payload); err != nil {
		return 0, err
	}

	var id uint64
	if s.ids != nil {
		id = s.ids.Reserve()
	}

	var uid string
	err := s.inFolder(folder, func() error {
		var err error
		uid, err = s.backend.Append(raw, "", flags, recent)
		return err
	})
	if err != nil {
		if s.ids != nil {
			s.ids.Rollback(id)
			metricAddRollbacks.Inc()
		}
		return 0, backendErr("append", err)
	}

	if s.ids != nil {
		if err := s.ids.Bind(id, uid); err != nil {
			s.ids.Rollback(id)
			metricAddRollbacks.Inc()
			s.discard(uid, folder)
			return 0, err
		}
	}
	msg.UID = uid
	s.folderOf[uid] = folder
	metricMessagesAdded.WithLabelValues(s.name).Inc()
	s.log.Debug("mensagem gravada",
		zap.String("folder", folder), zap.String("uid", uid), zap.Uint64("id", id))

	if err := s.bus.Fire(event.MailAddPost, event.Payload{Folder: folder, ID: id}); err != nil {
		return id, err
	}
	return id, nil
}

// discard remove do backend uma mensagem recém-gravada que não pôde ser
// registrada.
func (s *Storage) discard(uid, folder string) {
	seq, err := s.backend.SeqForUID(uid, folder)
	if err == nil {
		err = s.backend.Remove(seq, folder)
	}
	if err != nil {
		s.log.Error("falha ao descartar mensagem órfã", zap.String("uid", uid), zap.Error(err))
	}
}

func parseHeader(raw []byte) *mail.Header {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil
	}
	return &mail.Header{Header: ent.Header}
}

// locate devolve a pasta e a posição atuais do uid.
func (s *Storage) locate(uid string) (string, int, error) {
	if folder, ok := s.folderOf[uid]; ok {
		if seq, err := s.backend.SeqForUID(uid, folder); err == nil {
			return folder, seq, nil
		}
		delete(s.folderOf, uid)
	}

	folders, err := s.backend.ListFolders(storage.Inbox, "*")
	if err != nil {
		return "", 0, backendErr("list", err)
	}
	for _, folder := range append([]string{storage.Inbox}, folders...) {
		seq, err := s.backend.SeqForUID(uid, folder)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		} else if err != nil {
			return "", 0, backendErr("seq", err)
		}
		s.folderOf[uid] = folder
		return folder, seq, nil
	}
	return "", 0, fmt.Errorf("uid %s: %w", uid, ErrNotFound)
}

func (s *Storage) uidFor(id uint64) (string, error) {
	if s.ids == nil {
		return "", ErrNoIdentity
	}
	uid, ok := s.ids.UIDForID(id)
	if !ok {
		return "", idNotFound(id)
	}
	return uid, nil
}

// RemoveByID remove a mensagem do id, onde quer que ela esteja.
func (s *Storage) RemoveByID(id uint64) error {
	uid, err := s.uidFor(id)
	if err != nil {
		return err
	}
	folder, seq, err := s.locate(uid)
	if err != nil {
		return err
	}
	if err := s.backend.Remove(seq, folder); err != nil {
		return backendErr("remove", err)
	}
	s.ids.Remove(id)
	delete(s.folderOf, uid)
	metricMessagesRemoved.WithLabelValues(s.name).Inc()
	return nil
}

// RemoveBySeq remove a mensagem na posição seq de folder.
func (s *Storage) RemoveBySeq(seq int, folder string) error {
	folder = storage.NormalizeFolder(folder)
	uid, err := s.backend.UIDForSeq(seq, folder)
	if err != nil {
		return backendErr("uid", err)
	}
	if err := s.backend.Remove(seq, folder); err != nil {
		return backendErr("remove", err)
	}
	if s.ids != nil {
		if id, ok := s.ids.IDForUID(uid); ok {
			s.ids.Remove(id)
		}
	}
	delete(s.folderOf, uid)
	metricMessagesRemoved.WithLabelValues(s.name).Inc()
	return nil
}

// MessageByID lê a mensagem do id.
func (s *Storage) MessageByID(id uint64) (*storage.Message, error) {
	uid, err := s.uidFor(id)
	if err != nil {
		return nil, err
	}
	folder, seq, err := s.locate(uid)
	if err != nil {
		return nil, err
	}
	msg, err := s.backend.Read(seq, folder)
	if err != nil {
		return nil, backendErr("read", err)
	}
	return msg, nil
}

// CopyByID copia a mensagem do id para dest e devolve o novo id.
func (s *Storage) CopyByID(id uint64, dest string) (uint64, error) {
	msg, err := s.MessageByID(id)
	if err != nil {
		return 0, err
	}
	return s.AddMessage(msg.Raw, dest, storage.WithoutRecent(msg.Flags), true)
}

// CopyBySeq copia a mensagem na posição seq de src para dest.
func (s *Storage) CopyBySeq(seq int, src, dest string) (uint64, error) {
	msg, err := s.backend.Read(seq, storage.NormalizeFolder(src))
	if err != nil {
		return 0, backendErr("read", err)
	}
	return s.AddMessage(msg.Raw, dest, storage.WithoutRecent(msg.Flags), true)
}

// SeqByID retorna a posição atual da mensagem do id na sua pasta.
func (s *Storage) SeqByID(id uint64) (int, error) {
	uid, err := s.uidFor(id)
	if err != nil {
		return 0, err
	}
	_, seq, err := s.locate(uid)
	return seq, err
}

// IDBySeq retorna o id da mensagem na posição seq de folder.
func (s *Storage) IDBySeq(seq int, folder string) (uint64, error) {
	if s.ids == nil {
		return 0, ErrNoIdentity
	}
	folder = storage.NormalizeFolder(folder)
	uid, err := s.backend.UIDForSeq(seq, folder)
	if err != nil {
		return 0, backendErr("uid", err)
	}
	id, ok := s.ids.IDForUID(uid)
	if !ok {
		return 0, fmt.Errorf("uid %s: %w", uid, ErrNotFound)
	}
	s.folderOf[uid] = folder
	return id, nil
}

// ListFolders lista as pastas sob parent que casam com pattern.
func (s *Storage) ListFolders(parent, pattern string) ([]string, error) {
	folders, err := s.backend.ListFolders(parent, pattern)
	if err != nil {
		return nil, backendErr("list", err)
	}
	return folders, nil
}

// AddFolder cria a pasta e os ancestrais que faltarem.
func (s *Storage) AddFolder(path string) error {
	return backendErr("create", s.backend.CreateFolder(path))
}

// Count retorna o número de mensagens em folder.
func (s *Storage) Count(folder string) (int, error) {
	n, err := s.backend.Count(storage.NormalizeFolder(folder))
	if err != nil {
		return 0, backendErr("count", err)
	}
	return n, nil
}

// NextID retorna o id que a próxima mensagem receberá.
func (s *Storage) NextID() (uint64, error) {
	if s.ids == nil {
		return 0, ErrNoIdentity
	}
	return s.ids.PeekNextID(), nil
}
