package main

// Notifier blank imports. Each import registers a channel factory with the
// notifier registry under its configured name.

import (
	_ "github.com/Strob0t/TheraGate/internal/adapter/discord"
	_ "github.com/Strob0t/TheraGate/internal/adapter/email"
	_ "github.com/Strob0t/TheraGate/internal/adapter/pager"
	_ "github.com/Strob0t/TheraGate/internal/adapter/slack"
)
