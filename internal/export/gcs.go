package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ObjectCreator opens a writer that only succeeds when object does not exist
// yet.
type ObjectCreator func(ctx context.Context, object string) io.WriteCloser

// GCSCreator creates objects in b under the DoesNotExist precondition.
func GCSCreator(b *storage.BucketHandle) ObjectCreator {
	return func(ctx context.Context, object string) io.WriteCloser {
		return b.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	}
}

// Upload copies body into a new object. It reports written=false without an
// error when the object already exists (HTTP 412), so re-running an export
// for the same run is harmless.
func Upload(ctx context.Context, create ObjectCreator, object string, body io.Reader) (written bool, err error) {
	w := create(ctx, object)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		if preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("write gcs object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("finalize gcs object %s: %w", object, err)
	}
	return true, nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
