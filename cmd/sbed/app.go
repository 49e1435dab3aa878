package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.uber.org/zap"

	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/config"
	"github.com/bitfsorg/libsbe-go/disburse"
	"github.com/bitfsorg/libsbe-go/keystore"
	"github.com/bitfsorg/libsbe-go/logging"
	"github.com/bitfsorg/libsbe-go/recipient"
	"github.com/bitfsorg/libsbe-go/recorder"
	"github.com/bitfsorg/libsbe-go/scheduler"
	"github.com/bitfsorg/libsbe-go/service"
	"github.com/bitfsorg/libsbe-go/store"
)

// app holds the wired collaborators of one invocation.
type app struct {
	cfg        config.Config
	log        *zap.Logger
	store      *store.BoltStore
	recorder   recorder.Recorder
	history    *recorder.SQLiteRecorder
	breaker    *chain.Breaker
	runner     *service.Runner
	treasuries *config.Treasuries
	jobs       []scheduler.Job
}

func loadConfig(g *globalFlags) (config.Config, error) {
	dataDir := g.dataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	cfg, err := config.LoadConfig(config.ConfigPath(dataDir))
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return cfg, err
	}
	cfg.DataDir = dataDir
	if g.network != "" {
		cfg.Network = g.network
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// openApp wires the store, chain client, recorder and runner. withKeys
// decrypts every treasury's keys and binds it to the runner.
func openApp(g *globalFlags, withKeys bool) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.New(logging.Config{
		Environment: logging.Environment(cfg.Environment),
		Level:       cfg.LogLevel,
		File:        cfg.Resolve(cfg.LogFile),
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	a.treasuries, err = config.LoadTreasuries(cfg.Resolve(cfg.Treasuries))
	if err != nil {
		a.close()
		return nil, err
	}

	a.store, err = store.OpenBoltStore(cfg.StorePath())
	if err != nil {
		a.close()
		return nil, err
	}

	a.recorder = recorder.NewNoopRecorder()
	if cfg.SQLite != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Resolve(cfg.SQLite))
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			a.recorder, a.history = sr, sr
		}
	}

	rpcCfg, err := chain.ResolveConfig(&chain.RPCConfig{
		URL:      g.rpcURL,
		User:     g.rpcUser,
		Password: g.rpcPass,
	}, environ(), cfg.Network)
	if err != nil {
		a.close()
		return nil, err
	}
	a.breaker = chain.NewBreaker(chain.NewRPCClient(*rpcCfg), chain.DefaultBreakerConfig(), logger.Named("chain"))

	a.runner, err = service.NewRunner(service.Options{
		Store:     a.store,
		Chain:     a.breaker,
		Resolver:  recipient.NewDNSResolver(cfg.DNSUpstream),
		Recorder:  a.recorder,
		Logger:    logger.Named("runner"),
		Network:   cfg.Network,
		FeeRate:   cfg.FeeRate,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if withKeys {
		if err := a.bindAll(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) loadKey(t *config.Treasury, file string) (*ec.PrivateKey, error) {
	password := os.Getenv(t.PasswordEnv)
	if password == "" {
		return nil, fmt.Errorf("%s: password variable %s is not set", t.Name, t.PasswordEnv)
	}
	priv, err := keystore.Load(a.cfg.Resolve(file), password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}
	return priv, nil
}

// bindAll loads the keys of every treasury and binds it to the runner and
// to a scheduler job.
func (a *app) bindAll() error {
	for i := range a.treasuries.Treasuries {
		t := &a.treasuries.Treasuries[i]
		st, err := service.RecordFor(t)
		if err != nil {
			return err
		}
		key := store.KeyOf(st)

		authority, err := a.loadKey(t, t.AuthorityKeyFile)
		if err != nil {
			return err
		}
		if string(authority.PubKey().Compressed()) != string(st.Authority[:]) {
			return fmt.Errorf("%s: authority key file does not match the configured authority", t.Name)
		}
		treasuryKey, err := a.loadKey(t, t.KeyFile)
		if err != nil {
			return err
		}
		feeKey, err := a.loadKey(t, t.FeeKeyFile)
		if err != nil {
			return err
		}

		d := t.Destinations
		err = a.runner.Add(&service.Treasury{
			Name:         t.Name,
			Key:          key,
			Destinations: [3]string{d.Buyback, d.LP, d.Distribution},
			Keys:         disburse.Keys{Treasury: treasuryKey, Fee: feeKey},
		})
		if err != nil {
			return err
		}
		a.jobs = append(a.jobs, scheduler.Job{Name: t.Name, Spec: t.Cron, Key: key, Authority: authority})
	}
	return nil
}

func (a *app) job(name string) (scheduler.Job, bool) {
	for _, j := range a.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return scheduler.Job{}, false
}

func (a *app) close() {
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
