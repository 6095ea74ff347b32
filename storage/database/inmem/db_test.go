package inmemdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core/curriculum"
)

func TestTransactor_isolation(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		txErr   error
		wantErr error
	}{
		{name: "commit", wantErr: nil},
		{name: "rollback", txErr: errBoom, wantErr: curriculum.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := Open()
			tx := NewTransactor(db)
			repo := NewCurriculumRepository(db)
			ctx := context.Background()

			created := make(chan string)
			release := make(chan struct{})
			txDone := make(chan error)
			go func() {
				txDone <- tx.InTx(ctx, func(ctx context.Context) error {
					node, err := repo.CreateNode(ctx, curriculum.Node{Name: "CBSE", Kind: curriculum.KindBoard})
					if err != nil {
						return err
					}
					created <- node.ID
					<-release
					return tt.txErr
				})
			}()
			id := <-created

			readDone := make(chan error)
			go func() {
				_, err := repo.GetNode(ctx, id)
				readDone <- err
			}()
			select {
			case err := <-readDone:
				t.Fatalf("read returned %v while the transaction was running", err)
			case <-time.After(50 * time.Millisecond):
			}

			close(release)
			require.Equal(t, tt.txErr, <-txDone)
			assert.Equal(t, tt.wantErr, <-readDone)
		})
	}
}
