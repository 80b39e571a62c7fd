package sim

// LevelChangeCaster casts level changes to all subscribed listeners.
type LevelChangeCaster struct {
	listeners []LevelListener
}

// SubscribeLevelChange adds a listener.
func (c *LevelChangeCaster) SubscribeLevelChange(ln LevelListener) {
	c.listeners = append(c.listeners, ln)
}

// LevelChanged implements LevelListener.
func (c *LevelChangeCaster) LevelChanged(ev Event) {
	for _, ln := range c.listeners {
		ln.LevelChanged(ev)
	}
}
