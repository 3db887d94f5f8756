package device

// Releaser collects resources created during a multi-step construction so that a failure part
// way through releases everything created so far.
type Releaser struct {
	resources []Resource
}

// Track records r for a later ReleaseAll and returns it unchanged. Nil resources are ignored.
func (r *Releaser) Track(res Resource) Resource {
	if res != nil {
		r.resources = append(r.resources, res)
	}
	return res
}

// Len returns the number of tracked resources.
func (r *Releaser) Len() int {
	return len(r.resources)
}

// ReleaseAll releases every tracked resource in reverse creation order and forgets them.
func (r *Releaser) ReleaseAll() {
	for i := len(r.resources) - 1; i >= 0; i-- {
		r.resources[i].Release()
	}
	r.resources = nil
}

// Forget drops every tracked resource without releasing it; ownership has moved elsewhere.
func (r *Releaser) Forget() {
	r.resources = nil
}
