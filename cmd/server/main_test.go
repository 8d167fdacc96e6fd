package main

import (
	"testing"

	"dapurstok/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AllowedOrigin: "http://127.0.0.1:3000"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestValidateSecurityConfigRejectsWildcardOrigin(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "http://127.0.0.1:3000"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
