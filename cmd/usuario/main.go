package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lifecaller/esteira/internal/auth"
	"github.com/lifecaller/esteira/internal/db"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/util"
	"github.com/lifecaller/esteira/internal/workflow"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cmd := os.Args[1]
	args := os.Args[2:]

	// hash não precisa de banco.
	if cmd == "hash" {
		if err := runHash(args); err != nil {
			log.Fatal().Err(err).Msg("falha ao gerar hash")
		}
		return
	}

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		log.Fatal().Msg("defina DB_DSN ou DATABASE_URL")
	}

	if cmd == "migrate" {
		if err := db.Migrate(dsn); err != nil {
			log.Fatal().Err(err).Msg("falha ao migrar")
		}
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("não foi possível conectar ao banco")
	}
	defer pool.Close()

	queries := repo.New(pool)

	switch cmd {
	case "create":
		err = runCreate(ctx, queries, args)
	case "grant":
		err = runGroup(ctx, queries, args, true)
	case "revoke":
		err = runGroup(ctx, queries, args, false)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Str("cmd", cmd).Msg("comando falhou")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usuario CLI")
	fmt.Fprintln(os.Stderr, "uso:")
	fmt.Fprintln(os.Stderr, "  usuario create --username ana --password segredo [--email ana@lifecaller.com.br] [--groups atendente,calculista]")
	fmt.Fprintln(os.Stderr, "  usuario grant --username ana --group gerente")
	fmt.Fprintln(os.Stderr, "  usuario revoke --username ana --group gerente")
	fmt.Fprintln(os.Stderr, "  usuario hash <senha>")
	fmt.Fprintln(os.Stderr, "  usuario migrate")
	fmt.Fprintf(os.Stderr, "grupos: %s\n", strings.Join(workflow.KnownRoles(), ", "))
}

func runHash(args []string) error {
	if len(args) < 1 {
		return errors.New("uso: usuario hash <senha>")
	}
	hash, err := auth.Hash(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runCreate(ctx context.Context, queries *repo.Queries, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		username = fs.String("username", "", "login do usuário")
		email    = fs.String("email", "", "e-mail (opcional)")
		password = fs.String("password", "", "senha inicial")
		groups   = fs.String("groups", "", "grupos separados por vírgula")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*username) == "" || *password == "" {
		return errors.New("username e password são obrigatórios")
	}

	if strings.TrimSpace(*email) != "" {
		if err := util.ValidateEmail(*email); err != nil {
			return err
		}
	}

	grupos, err := parseGroups(*groups)
	if err != nil {
		return err
	}

	hash, err := auth.Hash(*password)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	user, err := queries.CreateUsuario(ctx, repo.CreateUsuarioParams{
		Username:  *username,
		Email:     *email,
		SenhaHash: hash,
		Grupos:    grupos,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return fmt.Errorf("usuário %q já existe", *username)
	}
	if err != nil {
		return err
	}

	output, _ := json.MarshalIndent(map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"groups":   grupos,
	}, "", "  ")
	fmt.Println(string(output))
	return nil
}

func runGroup(ctx context.Context, queries *repo.Queries, args []string, grant bool) error {
	fs := flag.NewFlagSet("group", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		username = fs.String("username", "", "login do usuário")
		group    = fs.String("group", "", "grupo")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	grupos, err := parseGroups(*group)
	if err != nil {
		return err
	}
	if len(grupos) != 1 {
		return errors.New("informe exatamente um grupo")
	}

	user, err := queries.GetUsuarioByUsername(ctx, *username)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("usuário %q não encontrado", *username)
	}
	if err != nil {
		return err
	}

	if grant {
		err = queries.AddGrupo(ctx, user.ID, grupos[0])
	} else {
		err = queries.RemoveGrupo(ctx, user.ID, grupos[0])
	}
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("usuário %q não pertence a %q", user.Username, grupos[0])
	}
	if err != nil {
		return err
	}

	log.Info().Str("username", user.Username).Str("group", grupos[0]).Bool("grant", grant).Msg("grupos atualizados")
	return nil
}

func parseGroups(raw string) ([]string, error) {
	var out []string
	for _, g := range strings.Split(raw, ",") {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if !workflow.IsKnownRole(g) {
			return nil, fmt.Errorf("grupo desconhecido: %s", g)
		}
		out = append(out, g)
	}
	return out, nil
}
