package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// PlanSettings is the static plan catalog source. It is resolved once at
// process start and passed by value into the services that need it, so
// tests stay deterministic and no component reads environment state later.
type PlanSettings struct {
	TrialDays  int           `mapstructure:"trialDays"`
	TrialQuota int           `mapstructure:"trialQuota"`
	Starter    PlanSetting   `mapstructure:"starter"`
	Pro        PlanSetting   `mapstructure:"pro"`
	Enterprise PlanSetting   `mapstructure:"enterprise"`
}

// PlanSetting configures a single plan tier.
type PlanSetting struct {
	PriceID      string `mapstructure:"priceId"`
	MonthlyQuota int    `mapstructure:"monthlyQuota"`
}

func DefaultPlanSettings() PlanSettings {
	return PlanSettings{
		TrialDays:  14,
		TrialQuota: 10,
		Starter:    PlanSetting{PriceID: "price_starter_monthly", MonthlyQuota: 500},
		Pro:        PlanSetting{PriceID: "price_pro_monthly", MonthlyQuota: 1500},
		// Enterprise is billed out-of-band; no provider price reference.
		Enterprise: PlanSetting{MonthlyQuota: 5000},
	}
}

// LoadPlanSettings reads plans.yml if present, falling back to compiled-in
// defaults. The file lives next to the binary in dev mode or under the
// mounted config volume in deployments.
func LoadPlanSettings() (PlanSettings, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/paperstream/config")
	v.AddConfigPath("/etc/paperstream")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAPERSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanSettings()
	v.SetDefault("plans.trialDays", defaults.TrialDays)
	v.SetDefault("plans.trialQuota", defaults.TrialQuota)
	v.SetDefault("plans.starter", defaults.Starter)
	v.SetDefault("plans.pro", defaults.Pro)
	v.SetDefault("plans.enterprise", defaults.Enterprise)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return PlanSettings{}, err
		}
	}

	var settings PlanSettings
	if err := v.UnmarshalKey("plans", &settings); err != nil {
		return PlanSettings{}, err
	}
	if err := validatePlanSettings(settings); err != nil {
		return PlanSettings{}, err
	}

	return settings, nil
}

func validatePlanSettings(settings PlanSettings) error {
	if settings.TrialDays <= 0 {
		return errors.New("plans.trialDays must be positive")
	}
	if settings.TrialQuota <= 0 {
		return errors.New("plans.trialQuota must be positive")
	}
	for _, s := range []PlanSetting{settings.Starter, settings.Pro, settings.Enterprise} {
		if s.MonthlyQuota <= 0 {
			return errors.New("plan monthlyQuota must be positive")
		}
	}
	if strings.TrimSpace(settings.Starter.PriceID) == "" || strings.TrimSpace(settings.Pro.PriceID) == "" {
		return errors.New("starter and pro plans require a priceId")
	}
	return nil
}
