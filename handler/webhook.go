package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if provider != "github" && provider != "gitea" {
		writeError(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	secret := h.cfg.WebhookSecret
	if secret == "" {
		writeError(w, http.StatusInternalServerError, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var sigHeader string
	switch provider {
	case "github":
		sigHeader = r.Header.Get("X-Hub-Signature-256")
	case "gitea":
		sigHeader = r.Header.Get("X-Gitea-Signature")
	}

	if !verifySignature(body, secret, provider, sigHeader) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	// Only push events start a run.
	var eventHeader string
	switch provider {
	case "github":
		eventHeader = r.Header.Get("X-GitHub-Event")
	case "gitea":
		eventHeader = r.Header.Get("X-Gitea-Event")
	}

	if eventHeader != "push" {
		writeJSON(w, map[string]bool{"ignored": true})
		return
	}

	var payload struct {
		Ref   string `json:"ref"`
		After string `json:"after"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	revision := payload.After
	if revision == "" {
		revision = payload.Ref
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")

	targets, err := h.db.ListTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(targets) == 0 {
		writeJSON(w, map[string]bool{"matched": false})
		return
	}

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}

	log.Printf("webhook: push to %s (%s), deploying %s to %d targets",
		branch, provider, revision, len(names))

	for _, name := range names {
		name := name
		go func() {
			if _, err := h.pipeline.Execute(context.Background(), name, revision); err != nil {
				log.Printf("webhook: deploy %s: %v", name, err)
			}
		}()
	}

	writeJSON(w, map[string]interface{}{
		"revision": revision,
		"targets":  names,
		"status":   "deploying",
	})
}

func verifySignature(body []byte, secret, provider, sigHeader string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	switch provider {
	case "github":
		// GitHub prefixes the hex digest with "sha256=".
		return hmac.Equal([]byte(sigHeader), []byte("sha256="+expected))
	case "gitea":
		return hmac.Equal([]byte(sigHeader), []byte(expected))
	}
	return false
}
