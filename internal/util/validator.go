package util

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var cpfPattern = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}-?\d{2}$`)

// ValidateEmail retorna erro para e-mails inválidos.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email obrigatório")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("email inválido")
	}
	return nil
}

// RequireString garante string não vazia.
func RequireString(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(field + " obrigatório")
	}
	return nil
}

// ValidateCPF aceita CPF com ou sem máscara (000.000.000-00).
// Apenas o formato é verificado; dígitos verificadores ficam com o banco.
func ValidateCPF(cpf string) error {
	cpf = strings.TrimSpace(cpf)
	if cpf == "" {
		return errors.New("cpf obrigatório")
	}
	if !cpfPattern.MatchString(cpf) {
		return errors.New("cpf inválido")
	}
	return nil
}

// DigitsOnly remove máscara de documentos.
func DigitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatCPF aplica a máscara padrão a 11 dígitos.
func FormatCPF(value string) string {
	d := DigitsOnly(value)
	if len(d) != 11 {
		return strings.TrimSpace(value)
	}
	return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11]
}
