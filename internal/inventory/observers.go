package inventory

import "sync"

type observers struct {
	obsMu sync.RWMutex
	list  []Observer
}

func (o *observers) Subscribe(obs Observer) {
	o.obsMu.Lock()
	o.list = append(o.list, obs)
	o.obsMu.Unlock()
}

func (o *observers) notify(ev ChangeEvent) {
	if len(ev.Changes) == 0 {
		return
	}
	o.obsMu.RLock()
	list := append([]Observer(nil), o.list...)
	o.obsMu.RUnlock()
	for _, obs := range list {
		obs.OnChange(ev)
	}
}
