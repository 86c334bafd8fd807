package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/mastercactapus/gstream/config"
	"github.com/mastercactapus/gstream/machine"
	"github.com/mastercactapus/gstream/machine/grbl"
)

// runFile streams a single program and returns when it is done.
func runFile(ctx context.Context, m *machine.Machine, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := m.Load(f)
	if err != nil {
		return err
	}
	log.Printf("loaded %d lines, estimated %s", len(p.Lines), p.Total().Round(time.Second))

	err = m.Connect(ctx)
	if err != nil {
		return err
	}
	return m.Executor().Run(ctx)
}

func main() {
	log.SetFlags(log.Lshortfile)

	cfgFile := flag.String("config", "gstream.toml", "Configuration file.")
	addr := flag.String("addr", "", "Address to bind the gstream server to (overrides config).")
	dir := flag.String("dir", "", "Data directory to use (overrides config).")
	spjsURL := flag.String("spjs", "", "Websocket URL of the SPJS server to use (overrides config).")
	port := flag.String("port", "", "Serial device glob, or port name if using SPJS (overrides config).")
	program := flag.String("run", "", "Stream a program file and exit instead of serving.")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dir != "" {
		cfg.DataDir = *dir
	}
	if *spjsURL != "" {
		cfg.Link.SPJS = *spjsURL
	}
	if *port != "" {
		if cfg.Link.SPJS != "" {
			cfg.Link.Port = *port
		} else {
			cfg.Link.Serial = *port
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events := newEventStream()
	w := grbl.NewWriter(cfg.Opener(), cfg.Writer(), events.Emit)
	m := machine.NewMachine(w, events.Emit)
	m.RetryInterval = cfg.Link.Retry.Duration
	m.Jogger().Interval = cfg.Jog.Interval.Duration

	if *program != "" {
		err = runFile(ctx, m, *program)
		w.Close()
		if err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		err := m.Watch(ctx, time.Second)
		if err != nil && ctx.Err() == nil {
			log.Println("ERROR: watch:", err)
		}
	}()

	intents := make(machine.IntentChan, 16)
	go func() {
		err := m.Serve(ctx, intents)
		if err != nil && ctx.Err() == nil {
			log.Println("ERROR: serve:", err)
		}
	}()

	api := newAPI(m, cfg, events, intents)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			api.ServeHTTP(w, req)
		}),
	}
	go func() {
		<-ctx.Done()
		m.Stop()
		events.sse.Shutdown()
		srv.Close()
	}()

	log.Println("Listening on", cfg.Addr)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	w.Close()
}
