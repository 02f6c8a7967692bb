package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/rawblock/prdp-collider/internal/apierr"
)

func TestHashUserTokenRoundTrips(t *testing.T) {
	hash, err := HashUserToken("s3cret")
	if err != nil {
		t.Fatalf("HashUserToken: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Fatalf("correct token rejected: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong")); err == nil {
		t.Fatal("wrong token was accepted")
	}
}

func TestWriteAPIErrorRendersMappedStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeAPIError(c, apierr.BadHashLength(nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !c.IsAborted() {
		t.Fatal("writeAPIError must abort the gin context")
	}
}

func TestWriteAPIErrorFallsBackToTransientForUntypedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeAPIError(c, errPlain("some unexpected failure"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d for an un-typed error", w.Code, http.StatusInternalServerError)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
