// Package web exposes the manual entry points: process, full-sort,
// what-if, undo and diagnostics.
package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/DJAMIRSAM/inbox-steward/internal/mailbox"
	"github.com/DJAMIRSAM/inbox-steward/internal/processor"
)

type Server struct {
	processor *processor.Processor
	mailbox   mailbox.Mailbox
	port      int
}

func NewServer(proc *processor.Processor, mb mailbox.Mailbox, port int) *Server {
	return &Server{processor: proc, mailbox: mb, port: port}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/process", s.handleProcess)
	mux.HandleFunc("/api/full-sort", s.handleFullSort)
	mux.HandleFunc("/api/what-if", s.handleWhatIf)
	mux.HandleFunc("/api/undo/", s.handleUndo)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	return mux
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("Starting web server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.processor.ProcessSeen(r.Context()); err != nil {
		log.Printf("Manual process failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFullSort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.processor.FullSort()
	if err != nil {
		log.Printf("Full sort failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	plan, err := s.processor.WhatIf()
	if err != nil {
		log.Printf("What-if failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan, "count": len(plan)})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/undo/")
	if token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}

	ok, err := s.processor.Undo(token)
	if err != nil {
		log.Printf("Undo failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Undo token not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "undone"})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mailbox.Diagnostics())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
