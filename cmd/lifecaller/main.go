package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lifecaller/esteira/internal/client"
	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/workflow"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	baseURL := strings.TrimSpace(os.Getenv("LIFECALLER_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL, client.WithToken(strings.TrimSpace(os.Getenv("LIFECALLER_TOKEN"))))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, c, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Error().Err(err).Str("cmd", os.Args[1]).Msg(hint(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "lifecaller: cliente da esteira de atendimentos")
	fmt.Fprintln(os.Stderr, "uso:")
	fmt.Fprintln(os.Stderr, "  lifecaller login --username ana --password segredo")
	fmt.Fprintln(os.Stderr, "  lifecaller list [--queue esteira|meus|calculista|...] [--stage s] [--banco b] [--cpf c] [--q texto] [--page n]")
	fmt.Fprintln(os.Stderr, "  lifecaller show <id>")
	fmt.Fprintln(os.Stderr, "  lifecaller claim <id>")
	fmt.Fprintln(os.Stderr, "  lifecaller release <id> [--note texto]")
	fmt.Fprintln(os.Stderr, "  lifecaller forward <id> [--approved=true|false] [--formalizado] [--stage destino] [--note texto]")
	fmt.Fprintln(os.Stderr, "  lifecaller note <id> --note texto")
	fmt.Fprintln(os.Stderr, "  lifecaller calculate <id> --valor 10000,50 --taxa 0.018")
	fmt.Fprintln(os.Stderr, "  lifecaller simulate <id> --parcelas 84 --saldo 5000 [--banco itau] [--seguro 0] [--co 0]")
	fmt.Fprintln(os.Stderr, "  lifecaller coef [--banco itau] [--parcelas 84]")
	fmt.Fprintln(os.Stderr, "variáveis: LIFECALLER_URL, LIFECALLER_TOKEN")
}

// hint traduz a categoria do erro para o operador.
func hint(err error) string {
	switch {
	case errors.Is(err, client.ErrTransport):
		return "falha de comunicação, tente novamente"
	case errors.Is(err, client.ErrUnauthorized):
		return "sem permissão ou sessão expirada"
	case errors.Is(err, client.ErrConflict), errors.Is(err, client.ErrInvalidStage):
		return "o atendimento mudou; estado atualizado exibido acima"
	case errors.Is(err, client.ErrValidation):
		return "dados inválidos"
	case errors.Is(err, client.ErrNotFound):
		return "não encontrado"
	default:
		return "comando falhou"
	}
}

func run(ctx context.Context, c *client.Client, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "login":
		return runLogin(ctx, c, out, args)
	case "list":
		return runList(ctx, c, out, args)
	case "show":
		id, _, err := caseID(cmd, args)
		if err != nil {
			return err
		}
		d, err := c.Detail(ctx, id)
		if err != nil {
			return err
		}
		return printDetail(out, d)
	case "claim", "release", "forward", "note", "calculate":
		return runAction(ctx, c, out, cmd, args)
	case "simulate":
		return runSimulate(ctx, c, out, args)
	case "coef":
		return runCoef(ctx, c, out, args)
	default:
		usage()
		return flag.ErrHelp
	}
}

func runLogin(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("username", "", "login")
	password := fs.String("password", "", "senha")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("username e password são obrigatórios")
	}
	tokens, err := c.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "LIFECALLER_TOKEN=%s\n", tokens.Access)
	fmt.Fprintf(out, "LIFECALLER_REFRESH=%s\n", tokens.Refresh)
	return nil
}

func runList(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var q client.ListQuery
	var stage string
	fs.StringVar(&q.Queue, "queue", "", "fila nomeada")
	fs.StringVar(&stage, "stage", "", "etapa")
	fs.StringVar(&q.Banco, "banco", "", "banco")
	fs.StringVar(&q.CPF, "cpf", "", "cpf (dígitos)")
	fs.StringVar(&q.Q, "q", "", "busca livre")
	fs.IntVar(&q.Page, "page", 0, "página")
	fs.IntVar(&q.PageSize, "page-size", 0, "itens por página")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q.Stage = workflow.Stage(stage)

	page, err := c.List(ctx, q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCPF\tMATRÍCULA\tBANCO\tETAPA\tRESPONSÁVEL")
	for _, a := range page.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.CPF, a.Matricula, a.Banco, a.Stage, optID(a.AssignedTo))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d de %d\n", len(page.Results), page.Count)
	return nil
}

func runAction(ctx context.Context, c *client.Client, out io.Writer, cmd string, args []string) error {
	id, rest, err := caseID(cmd, args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	note := fs.String("note", "", "observação")
	approved := fs.String("approved", "", "cliente aprovou a simulação (true/false)")
	formalizado := fs.Bool("formalizado", false, "contrato formalizado")
	stage := fs.String("stage", "", "destino esperado")
	valor := fs.String("valor", "", "valor liberado")
	taxa := fs.String("taxa", "", "taxa (0 a 0.99)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	in := client.TransitionInput{Note: *note, Stage: *stage}
	if *approved != "" {
		v, err := strconv.ParseBool(*approved)
		if err != nil {
			return fmt.Errorf("%w: approved deve ser true ou false", client.ErrValidation)
		}
		in.Approved = &v
	}
	if *formalizado {
		in.ContratoFormalizado = formalizado
	}

	var action workflow.Action
	switch cmd {
	case "claim":
		action = workflow.ActionClaim
	case "release":
		action = workflow.ActionRelease
	case "forward":
		action = workflow.ActionForward
	case "note":
		action = workflow.ActionAnnotate
	case "calculate":
		action = workflow.ActionCalculate
		v, err := coeficiente.ParseDecimal(*valor)
		if err != nil {
			return fmt.Errorf("%w: valor inválido %q", client.ErrValidation, *valor)
		}
		t, err := coeficiente.ParseDecimal(*taxa)
		if err != nil {
			return fmt.Errorf("%w: taxa inválida %q", client.ErrValidation, *taxa)
		}
		in.ValorLiberado, in.Taxa = &v, &t
	}

	view := client.NewCaseView(c, id)
	res, err := view.Do(ctx, action, in)
	if err != nil {
		// A visão já foi recarregada em caso de recusa da esteira.
		if d, ok := view.State(); ok {
			_ = printDetail(out, d)
		}
		return err
	}
	return printJSON(out, res)
}

func runSimulate(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	id, rest, err := caseID("simulate", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	var in coeficiente.QuoteInput
	fs.StringVar(&in.Banco, "banco", "", "banco (padrão: banco do atendimento)")
	fs.IntVar(&in.Parcelas, "parcelas", 0, "parcelas")
	fs.IntVar(&in.PrazoMeses, "prazo", 0, "prazo em meses")
	fs.Float64Var(&in.SaldoDevedor, "saldo", 0, "saldo devedor")
	fs.Float64Var(&in.SeguroBanco, "seguro", 0, "seguro do banco")
	fs.Float64Var(&in.PercentualCO, "co", 0, "percentual de consultoria")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	sim, err := c.Simulate(ctx, id, in)
	if err != nil {
		return err
	}
	return printJSON(out, sim)
}

func runCoef(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("coef", flag.ContinueOnError)
	banco := fs.String("banco", "", "banco")
	parcelas := fs.Int("parcelas", 0, "parcelas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := c.Coeficientes(ctx, *banco, *parcelas)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BANCO\tPARCELAS\tCOEFICIENTE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.6f\n", r.Banco, r.Parcelas, r.Coeficiente)
	}
	return tw.Flush()
}

func caseID(cmd string, args []string) (int64, []string, error) {
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("uso: lifecaller %s <id>", cmd)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("%w: id inválido %q", client.ErrValidation, args[0])
	}
	return id, args[1:], nil
}

func printDetail(out io.Writer, d client.Detail) error {
	a := d.Atendimento
	fmt.Fprintf(out, "Atendimento #%d  %s  matrícula %s  banco %s\n", a.ID, a.CPF, a.Matricula, a.Banco)
	fmt.Fprintf(out, "Etapa: %s  responsável: %s  dono: %s\n", a.Stage, optID(a.AssignedTo), optID(a.OwnerAtendente))
	if a.ValorLiberado != nil && a.Taxa != nil {
		fmt.Fprintf(out, "Valor liberado: %.2f  taxa: %.4f\n", *a.ValorLiberado, *a.Taxa)
	}
	actions := make([]string, 0, len(d.Actions.AvailableActions))
	for _, act := range d.Actions.AvailableActions {
		actions = append(actions, string(act))
	}
	fmt.Fprintf(out, "Ações: %s\n", strings.Join(actions, ", "))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUANDO\tEVENTO\tUSUÁRIO\tNOTA")
	for _, ev := range d.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.CreatedAt.Local().Format("02/01 15:04"), ev.EventType, optID(ev.UsuarioID), ev.Note)
	}
	return tw.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optID(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
