package fleet

import (
	"github.com/fleetsupervisor/fleetd/internal/chat"
	"github.com/fleetsupervisor/fleetd/internal/config"
)

// chatBridgeRef pairs a constructed bridge with the pipeline bound to it,
// so Start/Stop can iterate bridges without re-deriving their pipelines.
type chatBridgeRef struct {
	bridge   chat.Bridge
	pipeline *chat.Pipeline
}

// buildBridges constructs Shape A (Telegram, per-agent) and Shape B
// (Discord, shared-with-routing) bridges from the resolved config's
// agent chat bindings and bridge credentials, per spec §4.7.
func (m *Manager) buildBridges(cfg *config.ResolvedConfig) error {
	var refs []chatBridgeRef

	if discordCfg, ok := cfg.Bridges["discord"]; ok && discordCfg.Enabled {
		discordBridge, err := chat.NewDiscordBridge(discordCfg.Token, m.logger)
		if err != nil {
			return err
		}
		for _, agent := range cfg.Agents {
			binding, bound := agent.ChatBindings["discord"]
			if !bound {
				continue
			}
			discordBridge.BindAgent(agent.Name, binding.Channels, binding.Mode)
		}
		pipeline := m.newPipeline(discordBridge, discordBridge.Resolve)
		discordBridge.SetPipeline(pipeline)
		refs = append(refs, chatBridgeRef{bridge: discordBridge, pipeline: pipeline})
	}

	if telegramCfg, ok := cfg.Bridges["telegram"]; ok && telegramCfg.Enabled {
		for _, agent := range cfg.Agents {
			if _, bound := agent.ChatBindings["telegram"]; !bound {
				continue
			}
			agentName := agent.Name
			tgBridge, err := chat.NewTelegramBridge(agentName, telegramCfg.Token, m.logger)
			if err != nil {
				return err
			}
			resolve := func(msg chat.InboundMessage) string { return agentName }
			pipeline := m.newPipeline(tgBridge, resolve)
			tgBridge.SetPipeline(pipeline)
			refs = append(refs, chatBridgeRef{bridge: tgBridge, pipeline: pipeline})
		}
	}

	m.mu.Lock()
	m.bridgeRefs = refs
	m.mu.Unlock()
	return nil
}

func (m *Manager) newPipeline(b chat.Bridge, resolve chat.AgentResolver) *chat.Pipeline {
	return chat.NewPipeline(b.Name(), m.store, m.bus, m.chatTriggerFunc, resolve, nil, b.MessageLimit(), b.MinSendInterval(), m.logger)
}
