package atendimento

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lifecaller/esteira/internal/util"
	"github.com/lifecaller/esteira/internal/workflow"
)

const (
	FormatCSV        = "csv"
	FormatINETConsig = "inetconsig"
)

var (
	inetCPF       = regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}|\b\d{11}\b`)
	inetMatricula = regexp.MustCompile(`\b\d+\b`)
	inetBanco     = regexp.MustCompile(`(?i)\bbanco\b[\s:.-]*([[:alnum:]]+)`)
)

// importLine é uma linha reconhecida do arquivo, com a posição original.
type importLine struct {
	line int
	in   CreateInput
}

// parseImport detecta o formato e extrai as linhas válidas. Linhas com erro
// vão para errs sem interromper a leitura.
func parseImport(filename string, data []byte) (lines []importLine, errs []string, format string, err error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	format = detectFormat(filename, data)

	switch format {
	case FormatINETConsig:
		lines, errs = parseINETConsig(data)
	default:
		lines, errs, err = parseCasesCSV(data)
	}
	if err != nil {
		return nil, nil, format, err
	}
	if len(lines) == 0 && len(errs) == 0 {
		return nil, nil, format, &workflow.ValidationError{Field: "file", Message: "arquivo sem linhas"}
	}
	return lines, errs, format, nil
}

func detectFormat(filename string, data []byte) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt":
		return FormatINETConsig
	case ".csv":
		return FormatCSV
	}
	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		if bytes.ContainsAny(line, ",;") {
			return FormatCSV
		}
		return FormatINETConsig
	}
	return FormatCSV
}

func parseCasesCSV(data []byte) ([]importLine, []string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ','
	if head, _, _ := bytes.Cut(data, []byte("\n")); bytes.Count(head, []byte(";")) > bytes.Count(head, []byte(",")) {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	cols := map[string]int{"cpf": 0, "matricula": 1, "banco": 2}
	var (
		lines []importLine
		errs  []string
	)
	for first := true; ; first = false {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &workflow.ValidationError{Field: "file", Message: "csv inválido: " + err.Error()}
		}
		n, _ := reader.FieldPos(0)
		if first && isCasesHeader(rec) {
			cols = casesHeader(rec)
			continue
		}
		get := func(name string) string {
			if idx := cols[name]; idx >= 0 && idx < len(rec) {
				return strings.TrimSpace(rec[idx])
			}
			return ""
		}
		in := CreateInput{CPF: get("cpf"), Matricula: get("matricula"), Banco: get("banco")}
		if in == (CreateInput{}) {
			continue
		}
		normalized, err := in.normalize()
		if err != nil {
			errs = append(errs, fmt.Sprintf("linha %d: %s", n, err))
			continue
		}
		lines = append(lines, importLine{line: n, in: normalized})
	}
	return lines, errs, nil
}

func isCasesHeader(rec []string) bool {
	for _, f := range rec {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "cpf", "matricula", "matrícula", "banco":
			return true
		}
	}
	return false
}

// casesHeader mapeia as colunas pelo nome; coluna ausente fica em -1.
func casesHeader(rec []string) map[string]int {
	cols := map[string]int{"cpf": -1, "matricula": -1, "banco": -1}
	for i, f := range rec {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "cpf":
			cols["cpf"] = i
		case "matricula", "matrícula":
			cols["matricula"] = i
		case "banco":
			cols["banco"] = i
		}
	}
	return cols
}

// parseINETConsig lê o relatório de margem consignável em texto: cada linha
// relevante traz o CPF seguido da matrícula e do banco. Demais linhas são
// cabeçalhos e rodapés do relatório.
func parseINETConsig(data []byte) ([]importLine, []string) {
	var (
		lines []importLine
		errs  []string
	)
	for i, raw := range strings.Split(string(data), "\n") {
		n := i + 1
		text := strings.TrimSpace(raw)
		loc := inetCPF.FindStringIndex(text)
		if loc == nil {
			continue
		}
		cpf := text[loc[0]:loc[1]]
		rest := text[loc[1]:]

		matricula := inetMatricula.FindString(rest)
		banco := ""
		if m := inetBanco.FindStringSubmatch(rest); m != nil {
			banco = m[1]
		} else if fields := strings.Fields(rest); len(fields) > 0 {
			last := fields[len(fields)-1]
			if _, err := strconv.Atoi(last); err != nil {
				banco = last
			}
		}

		in, err := CreateInput{CPF: cpf, Matricula: matricula, Banco: banco}.normalize()
		if err != nil {
			errs = append(errs, fmt.Sprintf("linha %d: %s", n, err))
			continue
		}
		lines = append(lines, importLine{line: n, in: in})
	}
	return lines, errs
}

// normalize valida e padroniza os campos de abertura.
func (in CreateInput) normalize() (CreateInput, error) {
	out := CreateInput{
		CPF:       strings.TrimSpace(in.CPF),
		Matricula: strings.TrimSpace(in.Matricula),
		Banco:     strings.ToLower(strings.TrimSpace(in.Banco)),
	}
	if err := util.ValidateCPF(out.CPF); err != nil {
		return CreateInput{}, &workflow.ValidationError{Field: "cpf", Message: err.Error()}
	}
	out.CPF = util.FormatCPF(out.CPF)
	if err := util.RequireString(out.Matricula, "matricula"); err != nil {
		return CreateInput{}, &workflow.ValidationError{Field: "matricula", Message: err.Error()}
	}
	if err := util.RequireString(out.Banco, "banco"); err != nil {
		return CreateInput{}, &workflow.ValidationError{Field: "banco", Message: err.Error()}
	}
	return out, nil
}

// writeExport escreve o cabeçalho e devolve a função que grava cada linha.
func writeExport(w io.Writer) (*csv.Writer, func(Atendimento) error, error) {
	cw := csv.NewWriter(w)
	header := []string{"id", "cpf", "matricula", "banco", "stage", "owner_atendente", "assigned_to", "valor_liberado", "taxa", "created_at", "updated_at"}
	if err := cw.Write(header); err != nil {
		return nil, nil, err
	}
	return cw, func(a Atendimento) error {
		return cw.Write([]string{
			strconv.FormatInt(a.ID, 10),
			a.CPF,
			a.Matricula,
			a.Banco,
			string(a.Stage),
			formatInt(a.OwnerAtendente),
			formatInt(a.AssignedTo),
			formatFloat(a.ValorLiberado),
			formatFloat(a.Taxa),
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}, nil
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
