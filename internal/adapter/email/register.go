package email

import (
	"strconv"
	"strings"

	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

func init() {
	notifier.Register("email", factory("email"))
	notifier.Register(notifier.ChannelAuthority, factory(notifier.ChannelAuthority))
}

// factory builds a notifier from the string config keys host, port, from,
// to (comma separated), username and password.
func factory(name string) notifier.Factory {
	return func(config map[string]string) (notifier.Notifier, error) {
		port, err := strconv.Atoi(config["port"])
		if err != nil || port <= 0 {
			port = 587
		}
		var to []string
		for _, addr := range strings.Split(config["to"], ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		if config["host"] == "" || config["from"] == "" || len(to) == 0 {
			return nil, notifier.ErrNotConfigured
		}
		return NewNotifier(name, SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			To:       to,
			Username: config["username"],
			Password: config["password"],
		}), nil
	}
}
