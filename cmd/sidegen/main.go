package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sidegen-ml/sidegen"
	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/util"
)

var listenAddr string
var configDir string
var modelsDir string
var tokenizerRuntime string
var authToken string
var contextSize int
var threads int
var debug bool

var modelName string
var destination string
var branch string

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the generation session over a websocket",
	Description: `Serve starts the session and exposes two endpoints: /ws, the websocket carrying
the request and event protocol, and /metrics for Prometheus scrapes. Models are
downloaded on first use and cached under the models folder.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "listen",
			Usage:       "Address to listen on",
			Aliases:     []string{"l"},
			Destination: &listenAddr,
			Value:       "localhost:8191",
		},
		&cli.StringFlag{
			Name:        "configFolder",
			Usage:       "Folder holding model_config.json and generation_config.json. Falls back to $HOME/sidegen if not specified",
			Aliases:     []string{"c"},
			Destination: &configDir,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store downloaded models. Falls back to $HOME/sidegen/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
		&cli.StringFlag{
			Name:        "tokenizerRuntime",
			Usage:       "Tokenizer runtime to use, GO or RUST",
			Destination: &tokenizerRuntime,
			Value:       "GO",
		},
		&cli.StringFlag{
			Name:        "authToken",
			Usage:       "HuggingFace auth token for gated models",
			Destination: &authToken,
		},
		&cli.IntFlag{
			Name:        "contextSize",
			Usage:       "Model context size in tokens",
			Destination: &contextSize,
			Value:       2048,
		},
		&cli.IntFlag{
			Name:        "threads",
			Usage:       "Number of inference threads",
			Destination: &threads,
			Value:       4,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Enable debug logging",
			Destination: &debug,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		if err := resolveDirs(); err != nil {
			return err
		}

		store := sidegen.NewStore(configDir)
		provider := &backends.HubProvider{
			ModelsDir:        modelsDir,
			AuthToken:        authToken,
			TokenizerRuntime: tokenizerRuntime,
			ContextSize:      contextSize,
			Threads:          threads,
		}

		hub := events.NewHub(logger)
		defer hub.Close()
		session := sidegen.NewSession(provider, hub, sidegen.WithLogger(logger))
		defer func() {
			if err := session.Destroy(); err != nil {
				logger.Warn().Err(err).Msg("error destroying session")
			}
		}()
		router := sidegen.NewRouter(session, store, hub, logger)

		hub.OnMessage = func(data []byte) {
			if resp := router.HandleJSON(ctx.Context, data); resp != nil {
				hub.Publish(events.Event{Status: events.StatusResponse, Data: json.RawMessage(resp)})
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: listenAddr, Handler: mux}

		go func() {
			<-ctx.Context.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logger.Info().Str("addr", listenAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download a model from the HuggingFace hub",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name to download",
			Aliases:     []string{"m"},
			Destination: &modelName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "destination",
			Usage:       "Folder where to store the model. Falls back to $HOME/sidegen/models if not specified",
			Aliases:     []string{"d"},
			Destination: &destination,
		},
		&cli.StringFlag{
			Name:        "branch",
			Usage:       "Repository branch to download from",
			Aliases:     []string{"b"},
			Destination: &branch,
			Value:       "main",
		},
		&cli.StringFlag{
			Name:        "authToken",
			Usage:       "HuggingFace auth token for gated models",
			Destination: &authToken,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		if destination == "" {
			userDir, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			destination = util.PathJoinSafe(userDir, "sidegen", "models")
		}
		options := backends.NewDownloadOptions()
		options.AuthToken = authToken
		options.Branch = branch
		options.OnProgress = func(p backends.Progress) {
			logger.Info().Str("file", p.File).Float64("progress", p.Progress).Msg("downloading")
		}
		modelPath, err := backends.DownloadModel(modelName, destination, options)
		if err != nil {
			return err
		}
		fmt.Println(modelPath)
		return nil
	},
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func resolveDirs() error {
	if configDir == "" || modelsDir == "" {
		userDir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		if configDir == "" {
			configDir = util.PathJoinSafe(userDir, "sidegen")
		}
		if modelsDir == "" {
			modelsDir = util.PathJoinSafe(userDir, "sidegen", "models")
		}
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:     "sidegen",
		Usage:    "On-device generative AI session daemon",
		Commands: []*cli.Command{serveCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}
