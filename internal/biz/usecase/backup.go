package usecase

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// ageHeader starts every binary age file
var ageHeader = []byte("age-encryption.org/v1")

// BackupUsecase exports and restores the whole store
type BackupUsecase struct {
	backupRepo repo.BackupRepo
	sink       repo.ArchiveSink // Optional
	encryptor  repo.Encryptor   // Optional
	clock      domain.Clock
}

// NewBackupUsecase creates a new backup usecase
func NewBackupUsecase(backupRepo repo.BackupRepo, sink repo.ArchiveSink, encryptor repo.Encryptor, clock domain.Clock) *BackupUsecase {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &BackupUsecase{
		backupRepo: backupRepo,
		sink:       sink,
		encryptor:  encryptor,
		clock:      clock,
	}
}

// Encrypted reports whether exports are encrypted
func (uc *BackupUsecase) Encrypted() bool {
	return uc.encryptor != nil
}

// Export writes a snapshot to w, encrypted when an encryptor is configured
func (uc *BackupUsecase) Export(ctx context.Context, w io.Writer) (*domain.BackupManifest, error) {
	manifest := domain.BackupManifest{
		Format:     domain.BackupFormat,
		Version:    domain.BackupVersion,
		BackupID:   ulid.Make().String(),
		ExportedAt: uc.clock.Now().UTC(),
	}

	if uc.encryptor == nil {
		return uc.backupRepo.Export(ctx, w, manifest)
	}

	enc, err := uc.encryptor.Encrypt(w)
	if err != nil {
		return nil, fmt.Errorf("start encryption: %w", err)
	}
	written, err := uc.backupRepo.Export(ctx, enc, manifest)
	if err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish encryption: %w", err)
	}
	return written, nil
}

// ExportToSink exports into the archive sink and returns the manifest with the object name
func (uc *BackupUsecase) ExportToSink(ctx context.Context) (*domain.BackupManifest, string, error) {
	if uc.sink == nil {
		return nil, "", errors.NewUnavailable("no archive sink configured")
	}

	var buf bytes.Buffer
	manifest, err := uc.Export(ctx, &buf)
	if err != nil {
		return nil, "", err
	}
	name := manifest.ArchiveName(uc.Encrypted())
	if err := uc.sink.Put(ctx, name, &buf); err != nil {
		return nil, "", fmt.Errorf("upload backup: %w", err)
	}
	return manifest, name, nil
}

// Restore replaces the store with the snapshot read from r.
// Encrypted input is detected by its age header.
func (uc *BackupUsecase) Restore(ctx context.Context, r io.Reader) (*domain.BackupManifest, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(ageHeader))

	var src io.Reader = br
	if bytes.Equal(head, ageHeader) {
		if uc.encryptor == nil {
			return nil, errors.NewInvalidRequest("backup is encrypted but no identity is configured")
		}
		dec, err := uc.encryptor.Decrypt(br)
		if err != nil {
			return nil, fmt.Errorf("decrypt backup: %w", err)
		}
		src = dec
	}

	manifest, err := uc.backupRepo.Restore(ctx, src)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// RestoreFromSink restores the named archive from the sink
func (uc *BackupUsecase) RestoreFromSink(ctx context.Context, name string) (*domain.BackupManifest, error) {
	if uc.sink == nil {
		return nil, errors.NewUnavailable("no archive sink configured")
	}
	rc, err := uc.sink.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}
	defer rc.Close()
	return uc.Restore(ctx, rc)
}
