package soft

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type shadedVertex struct {
	out    VertexOutput
	screen mgl32.Vec3
	invW   float32
}

// draw runs the vertex program over the vertex range, assembles triangles
// and rasterizes them into the first color attachment of the current
// subpass. Triangles crossing the w=0 plane are dropped rather than clipped.
func (x *executor) draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	p := x.graphics
	if p == nil || x.pass == nil {
		return errors.New("draw without graphics pipeline or render pass")
	}
	if vertexCount == 0 || instanceCount == 0 || x.area.Width == 0 {
		return nil
	}
	sets := x.sets[hal.BindPointGraphics]
	res := Resources{sets: sets}

	for inst := firstInstance; inst < firstInstance+instanceCount; inst++ {
		verts := make([]shadedVertex, vertexCount)
		for i := range verts {
			in := VertexInput{Resources: res, VertexIndex: firstVertex + uint32(i), InstanceIndex: inst}
			x.fetchAttributes(&in)
			p.vertex(&in, &verts[i].out)
			x.toScreen(&verts[i])
		}
		for _, tri := range assemble(p.desc.Topology, len(verts)) {
			x.rasterize(p, res, verts[tri[0]], verts[tri[1]], verts[tri[2]])
		}
	}
	return nil
}

func (x *executor) fetchAttributes(in *VertexInput) {
	desc := &x.graphics.desc
	for _, a := range desc.VertexAttributes {
		if a.Location < 0 || a.Location >= len(in.attrs) {
			continue
		}
		var vb *hal.VertexBinding
		for i := range desc.VertexBindings {
			if desc.VertexBindings[i].Binding == a.Binding {
				vb = &desc.VertexBindings[i]
			}
		}
		bound, ok := x.vertexBuffers[a.Binding]
		if vb == nil || !ok {
			continue
		}
		index := uint64(in.VertexIndex)
		if vb.PerInstance {
			index = uint64(in.InstanceIndex)
		}
		data := bound.buf.bytes()
		off := bound.offset + index*uint64(vb.Stride) + uint64(a.Offset)
		end := off + uint64(a.Format.Size())
		if end > uint64(len(data)) {
			// out of range fetches read as zero
			continue
		}
		in.attrs[a.Location] = data[off:end]
		in.formats[a.Location] = a.Format
	}
}

func (x *executor) toScreen(v *shadedVertex) {
	vp := x.graphics.desc.Viewport
	pos := v.out.Position
	if pos[3] <= 0 {
		v.invW = 0
		return
	}
	v.invW = 1 / pos[3]
	ndc := pos.Vec3().Mul(v.invW)
	v.screen = mgl32.Vec3{
		vp.X + (ndc[0]+1)*vp.Width/2,
		vp.Y + (ndc[1]+1)*vp.Height/2,
		vp.MinDepth + ndc[2]*(vp.MaxDepth-vp.MinDepth),
	}
}

func assemble(t hal.PrimitiveTopology, n int) [][3]int {
	var tris [][3]int
	switch t {
	case hal.TopologyTriangleStrip:
		for i := 0; i+2 < n; i++ {
			if i%2 == 0 {
				tris = append(tris, [3]int{i, i + 1, i + 2})
			} else {
				tris = append(tris, [3]int{i + 1, i, i + 2})
			}
		}
	default:
		for i := 0; i+2 < n; i += 3 {
			tris = append(tris, [3]int{i, i + 1, i + 2})
		}
	}
	return tris
}

func edge(a, b mgl32.Vec3, px, py float32) float32 {
	return (b[0]-a[0])*(py-a[1]) - (b[1]-a[1])*(px-a[0])
}

func (x *executor) rasterize(p *graphicsPipeline, res Resources, v0, v1, v2 shadedVertex) {
	if v0.invW == 0 || v1.invW == 0 || v2.invW == 0 {
		return
	}
	area := edge(v0.screen, v1.screen, v2.screen[0], v2.screen[1])
	if area == 0 {
		return
	}
	// Framebuffer y points down, so a positive edge area is clockwise on screen.
	ccw := area < 0
	front := ccw == (p.desc.Rasterization.FrontFace == hal.FrontFaceCounterClockwise)
	switch p.desc.Rasterization.CullMode {
	case hal.CullFrontAndBack:
		return
	case hal.CullFront:
		if front {
			return
		}
	case hal.CullBack:
		if !front {
			return
		}
	}

	sub := p.pass.desc.Subpasses[p.desc.Subpass]
	var color, depth *image
	var blend hal.BlendAttachment
	if len(sub.ColorAttachments) > 0 {
		color = x.fb.views[sub.ColorAttachments[0]].image
		blend = hal.BlendAttachment{WriteMask: hal.ColorMaskAll}
		if len(p.desc.Blend) > 0 {
			blend = p.desc.Blend[0]
		}
	}
	if sub.DepthAttachment >= 0 && p.desc.Depth.TestEnable {
		depth = x.fb.views[sub.DepthAttachment].image
	}

	clip := x.area
	if s := p.desc.Scissor; s.Width > 0 && s.Height > 0 {
		clip = intersect(clip, s)
	}
	minX := max(int(floor(min(v0.screen[0], v1.screen[0], v2.screen[0]))), int(clip.X))
	minY := max(int(floor(min(v0.screen[1], v1.screen[1], v2.screen[1]))), int(clip.Y))
	maxX := min(int(ceil(max(v0.screen[0], v1.screen[0], v2.screen[0]))), int(clip.X)+int(clip.Width)-1)
	maxY := min(int(ceil(max(v0.screen[1], v1.screen[1], v2.screen[1]))), int(clip.Y)+int(clip.Height)-1)

	in := FragmentInput{Resources: res}
	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			cx, cy := float32(px)+0.5, float32(py)+0.5
			b0 := edge(v1.screen, v2.screen, cx, cy) / area
			b1 := edge(v2.screen, v0.screen, cx, cy) / area
			b2 := edge(v0.screen, v1.screen, cx, cy) / area
			if b0 < 0 || b1 < 0 || b2 < 0 {
				continue
			}
			z := b0*v0.screen[2] + b1*v1.screen[2] + b2*v2.screen[2]
			if depth != nil {
				dst := depth.texel(px, py, 0)
				if !compare(p.desc.Depth.Compare, z, loadTexel(depth.desc.Format, dst)[0]) {
					continue
				}
				if p.desc.Depth.WriteEnable {
					storeTexel(depth.desc.Format, dst, mgl32.Vec4{z})
				}
			}
			if color == nil || p.fragment == nil {
				continue
			}
			w0, w1, w2 := b0*v0.invW, b1*v1.invW, b2*v2.invW
			inv := w0 + w1 + w2
			for i := range in.Varyings {
				in.Varyings[i] = v0.out.Varyings[i].Mul(w0).
					Add(v1.out.Varyings[i].Mul(w1)).
					Add(v2.out.Varyings[i].Mul(w2)).
					Mul(1 / inv)
			}
			in.FragCoord = mgl32.Vec4{cx, cy, z, inv}
			src := p.fragment(&in)
			dst := color.texel(px, py, 0)
			storeTexel(color.desc.Format, dst, applyBlend(blend, src, loadTexel(color.desc.Format, dst)))
		}
	}
}

func floor(f float32) float32 { return float32(math.Floor(float64(f))) }

func ceil(f float32) float32 { return float32(math.Ceil(float64(f))) }

func intersect(a, b hal.Rect) hal.Rect {
	x0, y0 := max(a.X, b.X), max(a.Y, b.Y)
	x1 := min(int64(a.X)+int64(a.Width), int64(b.X)+int64(b.Width))
	y1 := min(int64(a.Y)+int64(a.Height), int64(b.Y)+int64(b.Height))
	if x1 <= int64(x0) || y1 <= int64(y0) {
		return hal.Rect{}
	}
	return hal.Rect{X: x0, Y: y0, Width: uint32(x1 - int64(x0)), Height: uint32(y1 - int64(y0))}
}

func compare(op hal.CompareOp, a, b float32) bool {
	switch op {
	case hal.CompareNever:
		return false
	case hal.CompareLess:
		return a < b
	case hal.CompareEqual:
		return a == b
	case hal.CompareLessOrEqual:
		return a <= b
	case hal.CompareGreater:
		return a > b
	case hal.CompareNotEqual:
		return a != b
	case hal.CompareGreaterOrEqual:
		return a >= b
	}
	return true
}

func factor(f hal.BlendFactor, src, dst mgl32.Vec4) float32 {
	switch f {
	case hal.BlendZero:
		return 0
	case hal.BlendSrcAlpha:
		return src[3]
	case hal.BlendOneMinusSrcAlpha:
		return 1 - src[3]
	case hal.BlendDstAlpha:
		return dst[3]
	case hal.BlendOneMinusDstAlpha:
		return 1 - dst[3]
	}
	return 1
}

func combine(op hal.BlendOp, s, d float32) float32 {
	if op == hal.BlendOpSubtract {
		return s - d
	}
	return s + d
}

func applyBlend(b hal.BlendAttachment, src, dst mgl32.Vec4) mgl32.Vec4 {
	out := src
	if b.Enable {
		sc, dc := factor(b.SrcColor, src, dst), factor(b.DstColor, src, dst)
		sa, da := factor(b.SrcAlpha, src, dst), factor(b.DstAlpha, src, dst)
		for i := 0; i < 3; i++ {
			out[i] = combine(b.ColorOp, src[i]*sc, dst[i]*dc)
		}
		out[3] = combine(b.AlphaOp, src[3]*sa, dst[3]*da)
	}
	for i := 0; i < 4; i++ {
		if b.WriteMask&(1<<i) == 0 {
			out[i] = dst[i]
		}
	}
	return out
}
