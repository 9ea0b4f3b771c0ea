// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CrawX/go-imap-indexer/api"
	"github.com/CrawX/go-imap-indexer/classifier"
	"github.com/CrawX/go-imap-indexer/classifier/rspamd"
	"github.com/CrawX/go-imap-indexer/classifier/spamassassin"
	"github.com/CrawX/go-imap-indexer/config"
	"github.com/CrawX/go-imap-indexer/credential"
	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/folders"
	"github.com/CrawX/go-imap-indexer/imapconnection"
	"github.com/CrawX/go-imap-indexer/imapsync"
	"github.com/CrawX/go-imap-indexer/ingest"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/CrawX/go-imap-indexer/notify"
	"github.com/CrawX/go-imap-indexer/persistence"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "config.toml", "path to the config file")
	setPassword := flag.String("set-password", "", "read a password from stdin and store it in the keyring under this key")
	flag.Parse()

	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	resolver := credential.NewResolver()
	if len(*setPassword) > 0 {
		storePassword(logger, resolver, *setPassword)
		return
	}

	conf, err := config.ReadConfig(*configFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	p, err := persistence.NewPersistence(conf.DatabaseDriver, conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}
	defer p.Close()

	spamChecker := newSpamChecker(logger, conf)
	rules := classifier.NewRules()

	folderMode := folders.All
	if conf.FolderMode == config.FolderModeLeaves {
		folderMode = folders.Leaves
	}

	managers := []*imapsync.Manager{}
	for _, account := range conf.Accounts {
		accountLogger := logger.WithField("account", account.Name)

		password, err := resolver.Resolve(account)
		if err != nil {
			accountLogger.WithField("error", err).Fatal("Could not resolve password")
		}

		// One dispatcher per account keeps the store as the only state accounts share.
		dispatcher := notify.NewDispatcher(conf.NotifyInterval.Duration, sinks(conf)...)

		pipelineOptions := []ingest.Option{
			ingest.WithRetentionDays(conf.RetentionDays),
			ingest.WithConcurrency(conf.IngestConcurrency),
		}
		if spamChecker != nil {
			pipelineOptions = append(pipelineOptions, ingest.WithSpamChecker(spamChecker))
		}
		pipeline := ingest.NewPipeline(p, rules, dispatcher, pipelineOptions...)

		account := account
		factory := func() domain.MailSession {
			return imapconnection.NewImapSession(account, password)
		}

		m, err := imapsync.NewManager(
			account.Name, factory, p, pipeline,
			imapsync.PrimaryFolder(conf.PrimaryFolder),
			imapsync.FolderMode(folderMode),
			imapsync.FolderDelay(conf.FolderDelay.Duration),
			imapsync.KeepaliveInterval(conf.KeepaliveInterval.Duration),
			imapsync.ReconnectBackoff(conf.ReconnectBackoff.Duration),
		)
		if err != nil {
			accountLogger.WithField("error", err).Fatal("Could not create sync manager")
		}
		managers = append(managers, m)
		accountLogger.WithFields(logrus.Fields{"server": account.Address(), "tls": account.Tls}).Info("Configured account")
	}

	supervisor := imapsync.NewSupervisor(managers...)
	server := api.NewServer(conf.ApiListen, p, func() map[string]string {
		states := map[string]string{}
		for account, state := range supervisor.States() {
			states[account] = state.String()
		}
		return states
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, logger, supervisor, server)
	if err != nil {
		logger.WithField("error", err).Error("Stopped with error")
		return
	}
	logger.Info("Stopped")
}

type runner interface {
	Run(ctx context.Context) error
}

// run blocks until the supervisor stops. A failing read API is logged and does not stop syncing.
func run(ctx context.Context, logger *logrus.Logger, supervisor, server runner) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(ctx)
	})
	g.Go(func() error {
		err := server.Run(ctx)
		if err != nil {
			logger.WithField("error", err).Error("Read API stopped, syncing continues")
		}
		return nil
	})
	return g.Wait()
}

func newSpamChecker(logger *logrus.Logger, conf *config.Config) domain.SpamChecker {
	switch {
	case len(conf.SpamassassinHost) > 0:
		sa, err := spamassassin.NewSpamassassin(conf.SpamassassinHost)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start spamassassin connector")
		}
		logger.WithField("host", conf.SpamassassinHost).Info("Using spamassassin spam check")
		return &classifier.RetryingSpamChecker{SpamChecker: sa}
	case len(conf.RspamdController) > 0:
		rs, err := rspamd.NewRspamd(conf.RspamdController, conf.RspamdPassword)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start rspamd connector")
		}
		logger.WithField("controller", conf.RspamdController).Info("Using rspamd spam check")
		return &classifier.RetryingSpamChecker{SpamChecker: rs}
	}

	return nil
}

func sinks(conf *config.Config) []domain.Sink {
	sinks := []domain.Sink{}
	if len(conf.WebhookUrl) > 0 {
		sinks = append(sinks, notify.NewWebhookSink(conf.WebhookUrl))
	}
	if len(conf.SlackWebhookUrl) > 0 {
		sinks = append(sinks, notify.NewSlackSink(conf.SlackWebhookUrl))
	}
	return sinks
}

func storePassword(logger *logrus.Logger, resolver *credential.Resolver, key string) {
	logger.WithField("key", key).Info("Reading password from stdin")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && len(password) == 0 {
		logger.WithField("error", err).Fatal("Could not read password")
	}

	err = resolver.Store(key, strings.TrimRight(password, "\r\n"))
	if err != nil {
		logger.WithField("error", err).Fatal("Could not store password")
	}
	logger.WithField("key", key).Info("Stored password in keyring")
}
