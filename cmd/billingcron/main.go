package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lexmonitor/LexMonitor/internal/pkg/database"
	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
	"github.com/lexmonitor/LexMonitor/internal/pkg/mail"
	"github.com/lexmonitor/LexMonitor/internal/pkg/payments"
)

// The billing cron runs the periodic half of the subscription lifecycle:
// expiring trials, charging due renewals and repairing drifted profile tier
// labels. It is scheduled externally (cron or a systemd timer), typically
// once per hour.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()

	gateway := payments.NewNetopiaClientFromEnv()
	if err := gateway.Validate(); err != nil {
		log.Fatalf("[BillingCron] Netopia configuration invalid: %v", err)
	}

	service := payments.NewServiceFromDB(database.GetDB(), gateway)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	log.Info("[BillingCron] Run started")

	var failures []string

	if err := service.ProcessTrialExpirations(ctx); err != nil {
		log.Errorf("[BillingCron] Trial expiration pass failed: %v", err)
		failures = append(failures, fmt.Sprintf("trial expirations: %v", err))
	}

	if err := service.ProcessDueRenewals(ctx); err != nil {
		log.Errorf("[BillingCron] Renewal pass failed: %v", err)
		failures = append(failures, fmt.Sprintf("renewals: %v", err))
	}

	if err := service.RepairTierLabels(); err != nil {
		log.Errorf("[BillingCron] Tier label repair failed: %v", err)
		failures = append(failures, fmt.Sprintf("tier label repair: %v", err))
	}

	if len(failures) > 0 {
		notifyOperator(failures)
		log.Fatalf("[BillingCron] Run finished with %d failed pass(es) after %s", len(failures), time.Since(start).Round(time.Millisecond))
	}

	log.Infof("[BillingCron] Run finished after %s", time.Since(start).Round(time.Millisecond))
}

func notifyOperator(failures []string) {
	to := env.GetEnv("ADMIN_ALERT_EMAIL", "")
	if to == "" {
		return
	}
	subject := fmt.Sprintf("LexMonitor: billing cron failed (%d pass(es))", len(failures))
	body := "The billing cron reported errors:\n\n- " + strings.Join(failures, "\n- ") + "\n"
	if err := mail.SendMail(to, subject, body); err != nil {
		log.Errorf("[BillingCron] Failed to send operator alert: %v", err)
	}
}
