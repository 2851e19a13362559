package coeficiente

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lifecaller/esteira/internal/workflow"
)

// ParseCSV lê linhas banco,parcelas,coeficiente. Aceita ';' como separador,
// vírgula decimal e cabeçalho opcional.
func ParseCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectComma(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &workflow.ValidationError{Field: "file", Message: "csv inválido: " + err.Error()}
	}

	cols := columns{banco: 0, parcelas: 1, coeficiente: 2}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if blank(rec) {
			continue
		}
		if i == 0 && isHeader(rec) {
			cols = headerColumns(rec)
			continue
		}
		row, err := cols.parse(rec)
		if err != nil {
			return nil, &workflow.ValidationError{Field: "file", Message: fmt.Sprintf("linha %d: %s", i+1, err)}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, &workflow.ValidationError{Field: "file", Message: "arquivo sem linhas"}
	}
	return rows, nil
}

// WriteCSV escreve as linhas no formato aceito por ParseCSV.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"banco", "parcelas", "coeficiente"}); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{row.Banco, strconv.Itoa(row.Parcelas), strconv.FormatFloat(row.Coeficiente, 'f', -1, 64)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type columns struct {
	banco, parcelas, coeficiente int
}

func (c columns) parse(rec []string) (Row, error) {
	field := func(idx int) string {
		if idx < 0 || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	banco := NormalizeBanco(field(c.banco))
	if banco == "" {
		return Row{}, fmt.Errorf("banco vazio")
	}
	parcelas, err := strconv.Atoi(field(c.parcelas))
	if err != nil || parcelas <= 0 {
		return Row{}, fmt.Errorf("parcelas inválidas %q", field(c.parcelas))
	}
	coef, err := ParseDecimal(field(c.coeficiente))
	if err != nil || coef <= 0 {
		return Row{}, fmt.Errorf("coeficiente inválido %q", field(c.coeficiente))
	}
	return Row{Banco: banco, Parcelas: parcelas, Coeficiente: coef}, nil
}

// ParseDecimal aceita ponto ou vírgula como separador decimal.
func ParseDecimal(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	return strconv.ParseFloat(raw, 64)
}

func detectComma(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func isHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	return err != nil
}

func headerColumns(rec []string) columns {
	cols := columns{banco: -1, parcelas: -1, coeficiente: -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "banco":
			cols.banco = i
		case "parcelas", "prazo", "prazo_meses":
			cols.parcelas = i
		case "coeficiente", "coef":
			cols.coeficiente = i
		}
	}
	if cols.banco < 0 || cols.parcelas < 0 || cols.coeficiente < 0 {
		return columns{banco: 0, parcelas: 1, coeficiente: 2}
	}
	return cols
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
