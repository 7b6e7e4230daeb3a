package usecase

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
	"github.com/devricklin/notify-reply-bridge/internal/testutil"
)

func TestBackup_PlainRoundTrip(t *testing.T) {
	ctx := context.Background()
	backupRepo := &mockBackupRepo{}
	uc := NewBackupUsecase(backupRepo, nil, nil, testutil.FixedClock())

	var buf bytes.Buffer
	manifest, err := uc.Export(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, domain.BackupFormat, manifest.Format)
	require.Len(t, manifest.BackupID, 26)
	require.Equal(t, testutil.FixedClock().Now(), manifest.ExportedAt)

	restored, err := uc.Restore(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, manifest.BackupID, restored.BackupID)
}

func TestBackup_EncryptedDetection(t *testing.T) {
	ctx := context.Background()
	backupRepo := &mockBackupRepo{}
	enc := xorEncryptor{key: 0x5a}
	uc := NewBackupUsecase(backupRepo, nil, enc, testutil.FixedClock())

	var buf bytes.Buffer
	manifest, err := uc.Export(ctx, &buf)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf.Bytes(), ageHeader))
	require.NotContains(t, buf.String(), manifest.BackupID)

	encrypted := buf.Bytes()

	restored, err := uc.Restore(ctx, bytes.NewReader(encrypted))
	require.NoError(t, err)
	require.Equal(t, manifest.BackupID, restored.BackupID)

	plain := NewBackupUsecase(backupRepo, nil, nil, nil)
	_, err = plain.Restore(ctx, bytes.NewReader(encrypted))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestBackup_Sink(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	uc := NewBackupUsecase(&mockBackupRepo{}, sink, xorEncryptor{key: 1}, testutil.FixedClock())

	manifest, name, err := uc.ExportToSink(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(name, "backup-20240115T103000Z-"))
	require.True(t, strings.HasSuffix(name, ".json.age"))
	require.Contains(t, sink.objects, name)

	restored, err := uc.RestoreFromSink(ctx, name)
	require.NoError(t, err)
	require.Equal(t, manifest.BackupID, restored.BackupID)

	noSink := NewBackupUsecase(&mockBackupRepo{}, nil, nil, nil)
	_, _, err = noSink.ExportToSink(ctx)
	require.True(t, errors.Is(err, errors.ErrUnavailable))
}
