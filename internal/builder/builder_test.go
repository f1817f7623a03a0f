package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
)

func unitHandle(name string) element.Handle {
	return element.ForProject("p").Child(element.KindRoot, "/src").
		Child(element.KindPackage, "com.acme").Child(element.KindUnit, name)
}

func declNames(decls []element.Decl) []string {
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	return names
}

const javaSource = `package com.acme;

import java.util.List;
import static java.util.Collections.*;

@Deprecated
public class Widget<T> extends Base implements Runnable, Comparable<Widget<T>> {
    private int count, total;
    public static final String NAME = "w";

    public Widget(int count) { this.count = count; }

    public void run() {}

    public <R> R map(List<T> items, String... names) { return null; }

    static class Part {}

    enum Color { RED, GREEN; void paint() {} }
}

interface Shape extends Comparable<Shape> {
    double area();
}

record Point(int x, int y) {}
`

func TestJava_Build(t *testing.T) {
	b := NewJava()
	defer b.Close()

	res, err := b.Build(context.Background(), unitHandle("Widget.java"), []byte(javaSource))
	require.NoError(t, err)
	require.True(t, res.Known)

	assert.Equal(t, "java", res.Language)
	assert.Equal(t, "com.acme", res.PackageName)
	assert.Equal(t, []string{"java.util.List", "static java.util.Collections.*"}, res.Imports)
	assert.Equal(t, []string{"Widget", "Shape", "Point"}, declNames(res.Decls))

	widget := res.Decls[0]
	assert.Equal(t, element.TypeClass, widget.TypeKind)
	assert.Equal(t, "Base", widget.Super)
	assert.Equal(t, []string{"Runnable", "Comparable<Widget<T>>"}, widget.Interfaces)
	assert.Equal(t, []string{"T"}, widget.TypeParams)
	assert.True(t, widget.Modifiers.Has(element.ModPublic))
	assert.True(t, widget.Modifiers.Has(element.ModDeprecated))
	assert.Equal(t, []string{"count", "total", "NAME", "Widget", "run", "map", "Part", "Color"}, declNames(widget.Children))
	assert.NotZero(t, widget.Fingerprint)
	assert.Equal(t, 6, widget.Range.StartLine)

	ctor := widget.Children[3]
	assert.True(t, ctor.Constructor)
	assert.Equal(t, []string{"int"}, ctor.Params)

	mapFn := widget.Children[5]
	assert.Equal(t, "R", mapFn.Type)
	assert.Equal(t, []string{"List<T>", "String..."}, mapFn.Params)

	color := widget.Children[7]
	assert.Equal(t, element.TypeEnum, color.TypeKind)
	assert.Equal(t, []string{"RED", "GREEN", "paint"}, declNames(color.Children))

	shape := res.Decls[1]
	assert.Equal(t, element.TypeInterface, shape.TypeKind)
	assert.Equal(t, []string{"Comparable<Shape>"}, shape.Interfaces)

	point := res.Decls[2]
	assert.Equal(t, element.TypeRecord, point.TypeKind)
	assert.Equal(t, []string{"x", "y"}, declNames(point.Children))
}

func TestJava_FingerprintTracksDeclarationText(t *testing.T) {
	b := NewJava()
	defer b.Close()
	ctx := context.Background()

	v1, err := b.Build(ctx, unitHandle("A.java"), []byte("class A { void f() {} void g() {} }"))
	require.NoError(t, err)
	v2, err := b.Build(ctx, unitHandle("A.java"), []byte("class A { void f() {} void g() { int x; } }"))
	require.NoError(t, err)

	f1, g1 := v1.Decls[0].Children[0], v1.Decls[0].Children[1]
	f2, g2 := v2.Decls[0].Children[0], v2.Decls[0].Children[1]
	assert.Equal(t, f1.Fingerprint, f2.Fingerprint)
	assert.NotEqual(t, g1.Fingerprint, g2.Fingerprint)
}

func TestJava_MalformedSource(t *testing.T) {
	b := NewJava()
	defer b.Close()

	res, err := b.Build(context.Background(), unitHandle("Broken.java"), []byte("class Broken { void f( { }"))
	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.Empty(t, res.Decls)
	assert.NotEmpty(t, res.Problems)
	assert.Equal(t, element.SeverityError, res.Problems[0].Severity)
}

const goSource = `package shapes

import (
	"fmt"
	m "math"
)

const Pi, tau = 3.14, 6.28

var registry map[string]Shape

type Shape interface {
	Area() float64
	fmt.Stringer
}

type Circle struct {
	Radius float64
	x, y   int
	*Base
}

type Celsius float64

type Alias = Circle

func (c *Circle) Area() float64 { return m.Pi * c.Radius * c.Radius }

func (o Other) Orphan() {}

func New[T any](r float64, opts ...T) *Circle { return &Circle{Radius: r} }
`

func TestGo_Build(t *testing.T) {
	b := NewGo()
	defer b.Close()

	res, err := b.Build(context.Background(), unitHandle("shapes.go"), []byte(goSource))
	require.NoError(t, err)
	require.True(t, res.Known)

	assert.Equal(t, "shapes", res.PackageName)
	assert.Equal(t, []string{"fmt", "math"}, res.Imports)
	assert.Equal(t, []string{"Pi", "tau", "registry", "Shape", "Circle", "Celsius", "Alias", "New", "Orphan"}, declNames(res.Decls))

	assert.True(t, res.Decls[0].Modifiers.Has(element.ModExported))
	assert.True(t, res.Decls[0].Modifiers.Has(element.ModFinal))
	assert.False(t, res.Decls[1].Modifiers.Has(element.ModExported))

	shape := res.Decls[3]
	assert.Equal(t, element.TypeInterface, shape.TypeKind)
	assert.Equal(t, []string{"Area"}, declNames(shape.Children))
	assert.Equal(t, []string{"fmt.Stringer"}, shape.Interfaces)

	circle := res.Decls[4]
	assert.Equal(t, element.TypeStruct, circle.TypeKind)
	assert.Equal(t, []string{"Radius", "x", "y", "Base", "Area"}, declNames(circle.Children))
	assert.Equal(t, "Circle", circle.Children[4].Receiver)

	assert.Equal(t, element.TypeClass, res.Decls[5].TypeKind)
	assert.Equal(t, "float64", res.Decls[5].Super)
	assert.Equal(t, element.TypeAlias, res.Decls[6].TypeKind)

	newFn := res.Decls[7]
	assert.Equal(t, []string{"float64", "...T"}, newFn.Params)
	assert.Equal(t, "*Circle", newFn.Type)
	assert.Len(t, newFn.TypeParams, 1)

	assert.Equal(t, "Other", res.Decls[8].Receiver)
}

func TestGo_MalformedSource(t *testing.T) {
	b := NewGo()
	defer b.Close()

	res, err := b.Build(context.Background(), unitHandle("broken.go"), []byte("package x\nfunc ( {"))
	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.Empty(t, res.Decls)
}

func TestMulti_Dispatch(t *testing.T) {
	m := NewDefault()
	defer m.Close()
	ctx := context.Background()

	res, err := m.Build(ctx, unitHandle("A.java"), []byte("class A {}"))
	require.NoError(t, err)
	assert.Equal(t, "java", res.Language)

	res, err = m.Build(ctx, unitHandle("a.go"), []byte("package a\ntype A struct{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "go", res.Language)

	res, err = m.Build(ctx, unitHandle("a.kt"), []byte("class A"))
	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.Len(t, res.Problems, 1)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Build(cctx, unitHandle("A.java"), []byte("class A {}"))
	assert.Error(t, err)
}

func TestArtifact_Build(t *testing.T) {
	a := NewArtifact(roots.DefaultConventions())

	res := a.Build("Widget.class")
	require.True(t, res.Known)
	require.Len(t, res.Decls, 1)
	assert.Equal(t, "Widget", res.Decls[0].Name)
	assert.False(t, res.Decls[0].Modifiers.Has(element.ModStatic))

	res = a.Build("Outer$Inner.class")
	require.Len(t, res.Decls, 1)
	assert.Equal(t, "Inner", res.Decls[0].Name)
	assert.True(t, res.Decls[0].Modifiers.Has(element.ModStatic))

	res = a.Build("Outer$1.class")
	assert.Equal(t, "1", res.Decls[0].Name)

	res = a.Build("Outer$.class")
	assert.False(t, res.Known)
}
