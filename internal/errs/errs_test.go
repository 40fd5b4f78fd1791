package errs_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"bindery/internal/errs"
)

func TestClassifyNotFound(t *testing.T) {
	err := fmt.Errorf("open source: %w", fs.ErrNotExist)
	app := errs.Classify(err)
	if app.Kind != errs.KindFile {
		t.Fatalf("expected file kind, got %s", app.Kind)
	}
	if app.Code != errs.CodeFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND, got %s", app.Code)
	}
	if app.Retriable {
		t.Fatal("missing file should not be retriable")
	}
	if !errors.Is(app, fs.ErrNotExist) {
		t.Fatal("cause should remain reachable through errors.Is")
	}
}

func TestClassifyCancellation(t *testing.T) {
	app := errs.Classify(context.Canceled)
	if app.Code != errs.CodeCancelled {
		t.Fatalf("expected OPERATION_CANCELLED, got %s", app.Code)
	}
	if !errs.Cancelled(app) {
		t.Fatal("Cancelled should recognize a classified cancellation")
	}
}

func TestClassifyEncryptedMessage(t *testing.T) {
	app := errs.Classify(errors.New("pdfcpu: this file is encrypted"))
	if app.Code != errs.CodePDFEncrypted {
		t.Fatalf("expected PDF_ENCRYPTED, got %s", app.Code)
	}
	if app.Kind != errs.KindValidation {
		t.Fatalf("expected validation kind, got %s", app.Kind)
	}
}

func TestClassifyFallbackIsRetriableSystemError(t *testing.T) {
	app := errs.Classify(errors.New("boom"))
	if app.Kind != errs.KindSystem || app.Code != errs.CodeBackendFailure {
		t.Fatalf("unexpected classification: %s/%s", app.Kind, app.Code)
	}
	if !app.Retriable {
		t.Fatal("unknown backend failures should be retriable")
	}
}

func TestDetailsPassesThroughExistingAppError(t *testing.T) {
	orig := errs.New(errs.KindConfig, errs.CodeConfigInvalid, errs.SeverityMedium, false, "bad config")
	wrapped := fmt.Errorf("while starting: %w", orig)
	if got := errs.Details(wrapped); got != orig {
		t.Fatalf("Details should unwrap to the original AppError, got %+v", got)
	}
}

func TestDetailsNil(t *testing.T) {
	if errs.Details(nil) != nil {
		t.Fatal("Details(nil) should be nil")
	}
}
