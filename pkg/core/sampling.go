package core

// DiffuseDirection returns a cosine-weighted direction around normal.
// Adding a uniform unit vector to the normal yields a Lambertian distribution.
func DiffuseDirection(normal Vec3, random *Random) Vec3 {
	dir := normal.Add(random.UnitVector())
	if dir.LengthSquared() < 1e-12 {
		return normal
	}
	return dir.Normalize()
}

// BounceDirection blends a diffuse sample toward the mirror reflection of
// incoming about normal. smoothness 0 is fully diffuse, 1 a perfect mirror.
func BounceDirection(incoming, normal Vec3, smoothness float32, random *Random) Vec3 {
	diffuse := DiffuseDirection(normal, random)
	if smoothness <= 0 {
		return diffuse
	}
	specular := incoming.Reflect(normal)
	return diffuse.Lerp(specular, smoothness).Normalize()
}
