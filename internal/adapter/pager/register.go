package pager

import "github.com/Strob0t/TheraGate/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		if config["url"] == "" || config["routing_key"] == "" {
			return nil, notifier.ErrNotConfigured
		}
		return NewNotifier(config["url"], config["routing_key"]), nil
	})
}
